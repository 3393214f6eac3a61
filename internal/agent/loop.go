package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/veridianlabs/storycore/internal/classify"
	"github.com/veridianlabs/storycore/internal/driver"
	"github.com/veridianlabs/storycore/internal/metrics"
	"github.com/veridianlabs/storycore/internal/models"
)

// DefaultMaxIterations is the hard iteration cap a Loop uses when none is
// configured.
const DefaultMaxIterations = 10

var deniedOutput = json.RawMessage(`{"denied":true}`)

// Result is what Run reports on completion: the final conversation,
// cumulative token usage across every driver call, and how many iterations
// it took.
type Result struct {
	Messages   []models.Message
	Usage      models.TokenUsage
	Iterations int
}

// Loop implements the MCP-style agentic conversation loop: it binds one
// driver, a tool registry, an approval manager, and a bounded context, and
// drives them through repeated generate/execute-tools turns until the
// driver stops requesting tools or the iteration cap trips.
type Loop struct {
	Driver    driver.Driver
	Tools     *ToolRegistry
	Approval  *ApprovalManager
	Context   *ContextManager
	Metrics   *metrics.Metrics
	Model     string
	MaxTokens int

	// MaxIterations caps how many generate/execute-tools round trips Run
	// makes before giving up with classify.KindMaxIterations. Zero uses
	// DefaultMaxIterations.
	MaxIterations int

	// Parallel executes a turn's approved tool calls concurrently instead
	// of sequentially.
	Parallel bool
}

func NewLoop(d driver.Driver, tools *ToolRegistry, approval *ApprovalManager) *Loop {
	if tools == nil {
		tools = NewToolRegistry()
	}
	if approval == nil {
		approval = NewApprovalManager(AutoApprove, nil)
	}
	return &Loop{
		Driver:        d,
		Tools:         tools,
		Approval:      approval,
		Context:       NewContextManager(DefaultMaxMessages),
		MaxIterations: DefaultMaxIterations,
	}
}

// Run appends userMessage to the conversation and drives the loop until the
// driver produces a non-tool-use response or the iteration cap is reached.
func (l *Loop) Run(ctx context.Context, userMessage models.Message) (*Result, error) {
	maxIterations := l.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	l.Context.Append(userMessage)

	var usage models.TokenUsage
	for iteration := 0; ; iteration++ {
		if iteration >= maxIterations {
			return nil, classify.New(classify.KindMaxIterations,
				fmt.Sprintf("reached max iterations: %d", maxIterations))
		}

		req := models.GenerateRequest{
			Messages:  l.Context.Snapshot(),
			Tools:     l.Tools.AsToolSchemas(),
			Model:     l.Model,
			MaxTokens: l.MaxTokens,
		}

		resp, err := l.Driver.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens

		if resp.FinishReason != models.FinishToolUse {
			l.Context.Append(models.NewTextMessage(models.RoleAssistant, outputText(resp.Outputs)))
			return &Result{
				Messages:   l.Context.Snapshot(),
				Usage:      usage,
				Iterations: iteration + 1,
			}, nil
		}

		toolCalls := outputToolCalls(resp.Outputs)
		l.Context.Append(models.Message{
			Role:      models.RoleAssistant,
			Content:   []models.Input{models.TextInput(outputText(resp.Outputs))},
			ToolCalls: toolCalls,
		})

		results := l.executeTools(ctx, toolCalls)
		l.Context.Append(models.Message{
			Role:        models.RoleUser,
			ToolResults: results,
		})
	}
}

func outputText(outputs []models.Output) string {
	var text string
	for _, o := range outputs {
		if o.Kind == models.OutputText {
			text += o.Text
		}
	}
	return text
}

func outputToolCalls(outputs []models.Output) []models.ToolCall {
	var calls []models.ToolCall
	for _, o := range outputs {
		if o.Kind == models.OutputToolCalls {
			calls = append(calls, o.ToolCalls...)
		}
	}
	return calls
}

// executeTools runs every tool call through the approval manager and, for
// approved calls, the registry, timing and recording each execution.
func (l *Loop) executeTools(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))

	run := func(i int) {
		tc := calls[i]
		approved, err := l.Approval.Check(ctx, tc.Name, tc.Arguments)
		if err != nil {
			results[i] = models.ToolResult{ID: tc.ID, IsError: true, Output: marshalError(err)}
			return
		}
		if !approved {
			results[i] = models.ToolResult{ID: tc.ID, IsError: true, Output: deniedOutput}
			return
		}
		results[i] = l.invoke(ctx, tc)
	}

	if !l.Parallel || len(calls) <= 1 {
		for i := range calls {
			run(i)
		}
		return results
	}

	var wg sync.WaitGroup
	wg.Add(len(calls))
	for i := range calls {
		go func(i int) {
			defer wg.Done()
			run(i)
		}(i)
	}
	wg.Wait()
	return results
}

func (l *Loop) invoke(ctx context.Context, tc models.ToolCall) models.ToolResult {
	tool, ok := l.Tools.Get(tc.Name)
	if !ok {
		if l.Metrics != nil {
			l.Metrics.RecordToolCall(tc.Name, "not_found", 0)
		}
		return models.ToolResult{
			ID:      tc.ID,
			IsError: true,
			Output:  marshalError(classify.New(classify.KindToolNotFound, "tool not found: "+tc.Name)),
		}
	}

	start := time.Now()
	out, err := tool.Execute(ctx, tc.Arguments)
	duration := time.Since(start)

	if err != nil {
		if l.Metrics != nil {
			l.Metrics.RecordToolCall(tc.Name, "error", duration)
		}
		return models.ToolResult{
			ID:      tc.ID,
			IsError: true,
			Output:  marshalError(classify.Wrap(classify.KindToolExecutionFailed, "tool execution failed", err)),
		}
	}

	if l.Metrics != nil {
		l.Metrics.RecordToolCall(tc.Name, "success", duration)
	}
	return models.ToolResult{ID: tc.ID, Output: out}
}

func marshalError(err error) json.RawMessage {
	payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return json.RawMessage(`{"error":"unknown"}`)
	}
	return payload
}
