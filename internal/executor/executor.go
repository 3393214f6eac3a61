// Package executor implements the narrative executor (C6): it dispatches
// each act of a narrative through a driver, accounts tokens and cost,
// shares a rate-limit guard across carousel iterations, and runs the
// processor pipeline after each act completes.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/veridianlabs/storycore/internal/classify"
	"github.com/veridianlabs/storycore/internal/driver"
	"github.com/veridianlabs/storycore/internal/models"
	"github.com/veridianlabs/storycore/internal/narrative"
	"github.com/veridianlabs/storycore/internal/processor"
	"github.com/veridianlabs/storycore/internal/ratelimit"
	"github.com/veridianlabs/storycore/internal/repository"
	"github.com/veridianlabs/storycore/internal/resolver"
)

// Policy controls failure handling and processor strictness.
type Policy struct {
	// ContinueOnError substitutes the error text for the response and moves
	// on to the next act instead of stopping the narrative.
	ContinueOnError bool
	// StrictProcessors turns a processor failure into a fatal error for the
	// narrative instead of a collected warning.
	StrictProcessors bool
}

// CostTable gives the per-million-token price used for cost accounting.
type CostTable struct {
	CostPerMillionInputTokens  float64
	CostPerMillionOutputTokens float64
}

// Executor runs narratives against a driver registry, a shared rate
// limiter, a reference resolver, and a processor pipeline.
type Executor struct {
	Drivers  *driver.Registry
	Limiter  *ratelimit.Limiter
	Resolver *resolver.Resolver
	Pipeline *processor.Pipeline
	Repo     repository.Repository
	Policy   Policy
	Costs    CostTable
}

// ProcessorWarning is a non-fatal processor failure surfaced alongside a
// successful NarrativeExecution when Policy.StrictProcessors is false.
type ProcessorWarning struct {
	ActName       string
	ProcessorName string
	Err           error
}

// Run executes every act of n in toc order, optionally repeating for a
// configured carousel, sharing the rate limiter across iterations.
func (e *Executor) Run(ctx context.Context, n *narrative.Narrative) (*narrative.NarrativeExecution, []ProcessorWarning, error) {
	iterations := 1
	if n.Carousel != nil && n.Carousel.Iterations > 0 {
		iterations = n.Carousel.Iterations
	}

	exec := &narrative.NarrativeExecution{NarrativeName: n.Metadata.Name}
	var warnings []ProcessorWarning

	budget := ratelimit.BudgetConfig{RPM: 1, TPM: 1, RPD: 1}
	if n.Carousel != nil && n.Carousel.Budget != nil {
		budget = ratelimit.BudgetConfig{
			RPM: orOne(n.Carousel.Budget.RPM),
			TPM: orOne(n.Carousel.Budget.TPM),
			RPD: orOne(n.Carousel.Budget.RPD),
		}
	}

	for iter := 0; iter < iterations; iter++ {
		if e.Resolver != nil {
			if e.Resolver.State == nil {
				e.Resolver.State = make(map[string]string)
			}
			e.Resolver.State["iteration"] = fmt.Sprintf("%d", iter)
		}
		priorActs := resolver.ActResponses{}
		for _, key := range n.TOC {
			act := n.Acts[key]
			ae, w, err := e.runAct(ctx, n, key, act, priorActs, budget)
			if err != nil && !e.Policy.ContinueOnError {
				exec.Append(ae)
				return exec, warnings, err
			}
			exec.Append(ae)
			priorActs[key] = ae.Response
			warnings = append(warnings, w...)
			if e.Policy.StrictProcessors {
				if fatal := FirstFatalProcessorError(w); fatal != nil {
					return exec, warnings, fatal
				}
			}
		}
	}
	return exec, warnings, nil
}

func orOne(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

func (e *Executor) runAct(ctx context.Context, n *narrative.Narrative, key string, act narrative.Act, priorActs resolver.ActResponses, budget ratelimit.BudgetConfig) (narrative.ActExecution, []ProcessorWarning, error) {
	ae := narrative.ActExecution{ActName: key, Model: act.Model, Temperature: act.Temperature, MaxTokens: act.MaxTokens}

	inputs := []models.Input{models.TextInput(act.Prompt)}
	if e.Resolver != nil {
		resolved, err := e.Resolver.Resolve(ctx, inputs, priorActs)
		if err != nil {
			ae.Err = err
			if e.Policy.ContinueOnError {
				ae.Response = err.Error()
				return ae, nil, nil
			}
			return ae, nil, err
		}
		inputs = resolved
	}

	var promptText string
	for _, in := range inputs {
		promptText += in.Text
	}
	ae.Inputs = promptText

	model := act.Model
	d, err := e.Drivers.Resolve(model)
	if err != nil {
		ae.Err = err
		if e.Policy.ContinueOnError {
			ae.Response = err.Error()
			return ae, nil, nil
		}
		return ae, nil, err
	}

	req := models.GenerateRequest{
		Messages:    []models.Message{models.NewTextMessage(models.RoleUser, promptText)},
		Model:       model,
		MaxTokens:   act.MaxTokens,
		Temperature: act.Temperature,
	}

	estTokens, _ := d.CountTokens(req)
	if act.MaxTokens > 0 {
		estTokens += act.MaxTokens
	} else {
		estTokens += 1024
	}

	start := time.Now()
	resp, err := e.dispatchWithLimiter(ctx, d, req, estTokens, budget)
	ae.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		ae.Err = err
		if e.Policy.ContinueOnError {
			ae.Response = err.Error()
			return ae, nil, nil
		}
		return ae, nil, err
	}

	ae.Response = textOf(resp)
	ae.TokenUsageInput = resp.Usage.InputTokens
	ae.TokenUsageOutput = resp.Usage.OutputTokens
	ae.EstimatedCostUSD = (float64(resp.Usage.InputTokens)/1e6)*e.Costs.CostPerMillionInputTokens +
		(float64(resp.Usage.OutputTokens)/1e6)*e.Costs.CostPerMillionOutputTokens

	warnings := e.runProcessors(ctx, n, ae)
	return ae, warnings, nil
}

func (e *Executor) dispatchWithLimiter(ctx context.Context, d driver.Driver, req models.GenerateRequest, estTokens int, budget ratelimit.BudgetConfig) (models.GenerateResponse, error) {
	if e.Limiter == nil {
		return d.Generate(ctx, req)
	}
	requestCost := 1.0
	if budget.RPM > 0 && budget.RPM < 1 {
		requestCost = 1 / budget.RPM
	}
	guard, err := e.Limiter.AcquireScaled(ctx, estTokens, requestCost)
	if err != nil {
		return models.GenerateResponse{}, err
	}
	defer guard.Release()
	return d.Generate(ctx, req)
}

func textOf(resp models.GenerateResponse) string {
	var out string
	for _, o := range resp.Outputs {
		if o.Kind == models.OutputText {
			out += o.Text
		}
	}
	return out
}

func (e *Executor) runProcessors(ctx context.Context, n *narrative.Narrative, ae narrative.ActExecution) []ProcessorWarning {
	if e.Pipeline == nil || e.Repo == nil {
		return nil
	}
	pctx := processor.Context{
		ActExecution:  ae,
		NarrativeMeta: n.Metadata,
		NarrativeName: n.Metadata.Name,
		Repo:          e.Repo,
	}
	var warnings []ProcessorWarning
	for _, r := range e.Pipeline.Run(ctx, pctx) {
		if r.Err != nil {
			warnings = append(warnings, ProcessorWarning{ActName: ae.ActName, ProcessorName: r.ProcessorName, Err: r.Err})
		}
	}
	return warnings
}

// FirstFatalProcessorError returns the first warning as a classify.Error
// when strict_processors is set, so callers can fail the narrative.
func FirstFatalProcessorError(warnings []ProcessorWarning) error {
	if len(warnings) == 0 {
		return nil
	}
	w := warnings[0]
	return classify.Wrap(classify.KindToolExecutionFailed, fmt.Sprintf("processor %q failed on act %q", w.ProcessorName, w.ActName), w.Err)
}
