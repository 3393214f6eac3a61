package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/veridianlabs/storycore/internal/classify"
	"github.com/veridianlabs/storycore/internal/driver"
	"github.com/veridianlabs/storycore/internal/models"
	"github.com/veridianlabs/storycore/internal/ratelimit"
)

type scriptedDriver struct {
	responses []models.GenerateResponse
	calls     int
}

func (d *scriptedDriver) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	resp := d.responses[d.calls]
	if d.calls < len(d.responses)-1 {
		d.calls++
	}
	return resp, nil
}

func (d *scriptedDriver) GenerateStream(ctx context.Context, req models.GenerateRequest) (<-chan models.StreamChunk, <-chan error) {
	out := make(chan models.StreamChunk)
	errc := make(chan error)
	close(out)
	close(errc)
	return out, errc
}

func (d *scriptedDriver) ProviderName() string { return "scripted" }
func (d *scriptedDriver) ModelName() string    { return "scripted-model" }
func (d *scriptedDriver) RateLimits() ratelimit.TierConfig {
	return ratelimit.TierConfig{Name: "scripted"}
}
func (d *scriptedDriver) CountTokens(req models.GenerateRequest) (int, error) { return 1, nil }
func (d *scriptedDriver) Capabilities() driver.Capabilities                  { return driver.Capabilities{Tools: true} }

func TestLoop_RunReturnsAssistantTextWhenNoToolsRequested(t *testing.T) {
	d := &scriptedDriver{responses: []models.GenerateResponse{
		{
			Outputs:      []models.Output{{Kind: models.OutputText, Text: "hello there"}},
			FinishReason: models.FinishStop,
			Usage:        models.TokenUsage{InputTokens: 10, OutputTokens: 5},
		},
	}}
	loop := NewLoop(d, NewToolRegistry(), NewApprovalManager(AutoApprove, nil))

	result, err := loop.Run(context.Background(), models.NewTextMessage(models.RoleUser, "hi"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Iterations != 1 {
		t.Fatalf("expected 1 iteration, got %d", result.Iterations)
	}
	if result.Usage.Total() != 15 {
		t.Fatalf("expected cumulative usage 15, got %d", result.Usage.Total())
	}
	last := result.Messages[len(result.Messages)-1]
	if last.Role != models.RoleAssistant || last.Content[0].Text != "hello there" {
		t.Fatalf("unexpected final message: %+v", last)
	}
}

func TestLoop_RunExecutesApprovedToolThenCompletes(t *testing.T) {
	d := &scriptedDriver{responses: []models.GenerateResponse{
		{
			Outputs: []models.Output{{
				Kind: models.OutputToolCalls,
				ToolCalls: []models.ToolCall{
					{ID: "tc-1", Name: "echo", Arguments: json.RawMessage(`{"msg":"hi"}`)},
				},
			}},
			FinishReason: models.FinishToolUse,
			Usage:        models.TokenUsage{InputTokens: 8, OutputTokens: 2},
		},
		{
			Outputs:      []models.Output{{Kind: models.OutputText, Text: "done"}},
			FinishReason: models.FinishStop,
			Usage:        models.TokenUsage{InputTokens: 4, OutputTokens: 1},
		},
	}}
	tools := NewToolRegistry()
	tools.Register(echoTool{})
	loop := NewLoop(d, tools, NewApprovalManager(AutoApprove, nil))

	result, err := loop.Run(context.Background(), models.NewTextMessage(models.RoleUser, "echo hi"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", result.Iterations)
	}

	var sawToolResult bool
	for _, m := range result.Messages {
		if len(m.ToolResults) == 1 && !m.ToolResults[0].IsError {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Fatalf("expected a successful tool result in the conversation: %+v", result.Messages)
	}
}

func TestLoop_RunDeniesToolCallsWhenPolicyRejects(t *testing.T) {
	d := &scriptedDriver{responses: []models.GenerateResponse{
		{
			Outputs: []models.Output{{
				Kind: models.OutputToolCalls,
				ToolCalls: []models.ToolCall{
					{ID: "tc-1", Name: "echo", Arguments: json.RawMessage(`{}`)},
				},
			}},
			FinishReason: models.FinishToolUse,
		},
		{
			Outputs:      []models.Output{{Kind: models.OutputText, Text: "ok"}},
			FinishReason: models.FinishStop,
		},
	}}
	tools := NewToolRegistry()
	tools.Register(echoTool{})
	loop := NewLoop(d, tools, NewApprovalManager(AllToolsRequireApproval, nil))

	result, err := loop.Run(context.Background(), models.NewTextMessage(models.RoleUser, "echo hi"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var denied bool
	for _, m := range result.Messages {
		for _, tr := range m.ToolResults {
			if tr.IsError && string(tr.Output) == `{"denied":true}` {
				denied = true
			}
		}
	}
	if !denied {
		t.Fatalf("expected a denied tool result in the conversation: %+v", result.Messages)
	}
}

type foreverToolUseDriver struct{}

func (foreverToolUseDriver) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	return models.GenerateResponse{
		Outputs: []models.Output{{
			Kind:      models.OutputToolCalls,
			ToolCalls: []models.ToolCall{{ID: "tc", Name: "echo", Arguments: json.RawMessage(`{}`)}},
		}},
		FinishReason: models.FinishToolUse,
	}, nil
}

func (foreverToolUseDriver) GenerateStream(ctx context.Context, req models.GenerateRequest) (<-chan models.StreamChunk, <-chan error) {
	out := make(chan models.StreamChunk)
	errc := make(chan error)
	close(out)
	close(errc)
	return out, errc
}

func (foreverToolUseDriver) ProviderName() string { return "forever" }
func (foreverToolUseDriver) ModelName() string    { return "forever-model" }
func (foreverToolUseDriver) RateLimits() ratelimit.TierConfig {
	return ratelimit.TierConfig{Name: "forever"}
}
func (foreverToolUseDriver) CountTokens(req models.GenerateRequest) (int, error) { return 1, nil }
func (foreverToolUseDriver) Capabilities() driver.Capabilities                  { return driver.Capabilities{Tools: true} }

func TestLoop_RunTerminatesAtMaxIterations(t *testing.T) {
	tools := NewToolRegistry()
	tools.Register(echoTool{})
	loop := NewLoop(foreverToolUseDriver{}, tools, NewApprovalManager(AutoApprove, nil))
	loop.MaxIterations = 3

	_, err := loop.Run(context.Background(), models.NewTextMessage(models.RoleUser, "go forever"))
	if !classify.Is(err, classify.KindMaxIterations) {
		t.Fatalf("expected KindMaxIterations, got %v", err)
	}
}
