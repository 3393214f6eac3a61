package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRecordExecution_UpdatesSnapshot(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordExecution("morning-post", 2*time.Second, "claude-sonnet-4-20250514", 0.02)
	m.RecordExecution("morning-post", 4*time.Second, "claude-sonnet-4-20250514", 0.04)

	snap := m.Collect()
	if snap.ExecutionsTotal != 2 {
		t.Fatalf("expected 2 executions, got %v", snap.ExecutionsTotal)
	}
	if snap.AvgExecSeconds != 3 {
		t.Fatalf("expected average duration 3s, got %v", snap.AvgExecSeconds)
	}
	if got := snap.CostUSDByModel["claude-sonnet-4-20250514"]; got < 0.059 || got > 0.061 {
		t.Fatalf("expected cumulative cost ~0.06, got %v", got)
	}
}

func TestRecordToolCall_BreaksDownByToolAndStatus(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordToolCall("search_web", "ok", 100*time.Millisecond)
	m.RecordToolCall("search_web", "ok", 200*time.Millisecond)
	m.RecordToolCall("search_web", "error", 50*time.Millisecond)

	snap := m.Collect()
	if snap.ToolCallsByTool["search_web:ok"] != 2 {
		t.Fatalf("expected 2 ok calls, got %v", snap.ToolCallsByTool["search_web:ok"])
	}
	if snap.ToolCallsByTool["search_web:error"] != 1 {
		t.Fatalf("expected 1 error call, got %v", snap.ToolCallsByTool["search_web:error"])
	}
	if avg := snap.AvgToolSeconds["search_web"]; avg <= 0 {
		t.Fatalf("expected a positive average tool duration, got %v", avg)
	}
}

func TestRecordTokens_SplitsByDirectionAndTracksRequests(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordTokens("anthropic", "claude-sonnet-4-20250514", 1000, 250)
	m.RecordTokens("anthropic", "claude-sonnet-4-20250514", 500, 0)

	snap := m.Collect()
	if snap.TokensByDir["input"] != 1500 {
		t.Fatalf("expected 1500 input tokens, got %v", snap.TokensByDir["input"])
	}
	if snap.TokensByDir["output"] != 250 {
		t.Fatalf("expected 250 output tokens, got %v", snap.TokensByDir["output"])
	}
	if snap.RequestsByModel["anthropic:claude-sonnet-4-20250514"] != 2 {
		t.Fatalf("expected 2 requests, got %v", snap.RequestsByModel["anthropic:claude-sonnet-4-20250514"])
	}
}

func TestRecordError_AggregatesByKind(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordError("rate_limited")
	m.RecordError("rate_limited")
	m.RecordError("configuration")

	snap := m.Collect()
	if snap.ErrorsByKind["rate_limited"] != 2 {
		t.Fatalf("expected 2 rate_limited errors, got %v", snap.ErrorsByKind["rate_limited"])
	}
	if snap.ErrorsByKind["configuration"] != 1 {
		t.Fatalf("expected 1 configuration error, got %v", snap.ErrorsByKind["configuration"])
	}
}

func TestCollect_EmptyRegistryYieldsZeroedSnapshot(t *testing.T) {
	m := New(prometheus.NewRegistry())
	snap := m.Collect()
	if snap.ExecutionsTotal != 0 || snap.AvgExecSeconds != 0 {
		t.Fatalf("expected a zeroed snapshot, got %+v", snap)
	}
}
