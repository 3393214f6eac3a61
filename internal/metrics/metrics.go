// Package metrics exposes the Prometheus counters and histograms the
// narrative executor, agent loop, and scheduler report against, plus a
// point-in-time snapshot for non-Prometheus consumers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics is the process-wide metrics surface. Construct one with New,
// passing the *prometheus.Registry to register against (a fresh
// prometheus.NewRegistry() both in tests and in the process wiring) so
// multiple instances in one process
// don't collide, and so Collect can Gather() a generic snapshot back out.
type Metrics struct {
	registry *prometheus.Registry

	ExecutionsTotal *prometheus.CounterVec

	ToolCallsTotal *prometheus.CounterVec

	TokensTotal *prometheus.CounterVec

	ErrorsTotal *prometheus.CounterVec

	RequestsTotal *prometheus.CounterVec

	ExecutionDuration *prometheus.HistogramVec

	ToolDuration *prometheus.HistogramVec

	TokensPerTurn *prometheus.HistogramVec

	WorkflowCostUSD *prometheus.HistogramVec
}

// New registers every metric against reg and returns the bound Metrics.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storycore_executions_total",
			Help: "Total number of narrative executions run.",
		}, []string{"narrative"}),

		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storycore_tool_calls_total",
			Help: "Total number of agent tool calls by tool and outcome.",
		}, []string{"tool", "status"}),

		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storycore_tokens_total",
			Help: "Total tokens consumed, by direction.",
		}, []string{"direction"}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storycore_errors_total",
			Help: "Total classified errors by kind.",
		}, []string{"kind"}),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storycore_requests_total",
			Help: "Total driver requests by provider and model.",
		}, []string{"provider", "model"}),

		ExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storycore_execution_duration_seconds",
			Help:    "Narrative execution wall-clock duration.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"narrative"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storycore_tool_duration_seconds",
			Help:    "Agent tool execution duration.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool"}),

		TokensPerTurn: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storycore_tokens_per_turn",
			Help:    "Tokens consumed per agent loop turn, by direction.",
			Buckets: []float64{100, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}, []string{"direction"}),

		WorkflowCostUSD: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storycore_workflow_cost_usd",
			Help:    "Estimated USD cost of one narrative execution, by model.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"model"}),
	}
}

// RecordExecution reports one completed narrative run.
func (m *Metrics) RecordExecution(narrative string, duration time.Duration, model string, costUSD float64) {
	m.ExecutionsTotal.WithLabelValues(narrative).Inc()
	m.ExecutionDuration.WithLabelValues(narrative).Observe(duration.Seconds())
	if costUSD > 0 {
		m.WorkflowCostUSD.WithLabelValues(model).Observe(costUSD)
	}
}

// RecordToolCall reports one agent tool invocation.
func (m *Metrics) RecordToolCall(tool, status string, duration time.Duration) {
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordTokens reports token usage for one driver call, both the running
// totals and the per-turn histogram an agent loop iteration contributes to.
func (m *Metrics) RecordTokens(provider, model string, inputTokens, outputTokens int) {
	if inputTokens > 0 {
		m.TokensTotal.WithLabelValues("input").Add(float64(inputTokens))
		m.TokensPerTurn.WithLabelValues("input").Observe(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.TokensTotal.WithLabelValues("output").Add(float64(outputTokens))
		m.TokensPerTurn.WithLabelValues("output").Observe(float64(outputTokens))
	}
	m.RequestsTotal.WithLabelValues(provider, model).Inc()
}

// RecordError reports one classified error by kind.
func (m *Metrics) RecordError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// Snapshot is a point-in-time, non-Prometheus view of accumulated totals:
// grand totals plus the per-model breakdown the configuration-and-process
// wiring section calls for.
type Snapshot struct {
	ExecutionsTotal float64
	ToolCallsByTool map[string]float64 // "<tool>:<status>" -> count
	TokensByDir     map[string]float64 // "input"/"output" -> count
	ErrorsByKind    map[string]float64
	RequestsByModel map[string]float64 // "<provider>:<model>" -> count
	CostUSDByModel  map[string]float64 // model -> cumulative observed cost
	AvgExecSeconds  float64
	AvgToolSeconds  map[string]float64 // tool -> average duration
}

// Collect gathers every registered metric family and aggregates it into a
// Snapshot, reading label pairs generically so new label values (a new
// tool, a new provider/model pair) show up without code changes here.
func (m *Metrics) Collect() Snapshot {
	snap := Snapshot{
		ToolCallsByTool: map[string]float64{},
		TokensByDir:     map[string]float64{},
		ErrorsByKind:    map[string]float64{},
		RequestsByModel: map[string]float64{},
		CostUSDByModel:  map[string]float64{},
		AvgToolSeconds:  map[string]float64{},
	}

	families, err := m.registry.Gather()
	if err != nil {
		return snap
	}

	for _, fam := range families {
		switch fam.GetName() {
		case "storycore_executions_total":
			for _, mf := range fam.Metric {
				snap.ExecutionsTotal += mf.GetCounter().GetValue()
			}
		case "storycore_tool_calls_total":
			for _, mf := range fam.Metric {
				snap.ToolCallsByTool[labelKey(mf, "tool", "status")] += mf.GetCounter().GetValue()
			}
		case "storycore_tokens_total":
			for _, mf := range fam.Metric {
				snap.TokensByDir[labelValue(mf, "direction")] += mf.GetCounter().GetValue()
			}
		case "storycore_errors_total":
			for _, mf := range fam.Metric {
				snap.ErrorsByKind[labelValue(mf, "kind")] += mf.GetCounter().GetValue()
			}
		case "storycore_requests_total":
			for _, mf := range fam.Metric {
				snap.RequestsByModel[labelKey(mf, "provider", "model")] += mf.GetCounter().GetValue()
			}
		case "storycore_workflow_cost_usd":
			for _, mf := range fam.Metric {
				snap.CostUSDByModel[labelValue(mf, "model")] += histogramSum(mf)
			}
		case "storycore_execution_duration_seconds":
			var sum, count float64
			for _, mf := range fam.Metric {
				sum += histogramSum(mf)
				count += histogramCount(mf)
			}
			if count > 0 {
				snap.AvgExecSeconds = sum / count
			}
		case "storycore_tool_duration_seconds":
			for _, mf := range fam.Metric {
				tool := labelValue(mf, "tool")
				if c := histogramCount(mf); c > 0 {
					snap.AvgToolSeconds[tool] = histogramSum(mf) / c
				}
			}
		}
	}
	return snap
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func labelKey(m *dto.Metric, names ...string) string {
	key := ""
	for i, name := range names {
		if i > 0 {
			key += ":"
		}
		key += labelValue(m, name)
	}
	return key
}

func histogramSum(m *dto.Metric) float64 {
	if h := m.GetHistogram(); h != nil {
		return h.GetSampleSum()
	}
	return 0
}

func histogramCount(m *dto.Metric) float64 {
	if h := m.GetHistogram(); h != nil {
		return float64(h.GetSampleCount())
	}
	return 0
}
