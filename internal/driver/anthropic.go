package driver

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/veridianlabs/storycore/internal/classify"
	"github.com/veridianlabs/storycore/internal/models"
	"github.com/veridianlabs/storycore/internal/ratelimit"
)

// AnthropicConfig configures an Anthropic-backed Driver.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Tier    ratelimit.TierConfig
}

// AnthropicDriver adapts Anthropic's Messages API to the Driver contract.
type AnthropicDriver struct {
	base
	client anthropic.Client
}

func NewAnthropicDriver(cfg AnthropicConfig) (*AnthropicDriver, error) {
	if cfg.APIKey == "" {
		return nil, classify.New(classify.KindConfiguration, "anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicDriver{
		base: base{
			provider: "anthropic",
			model:    model,
			tier:     cfg.Tier,
			caps:     Capabilities{Streaming: true, Tools: true, Vision: true, SystemPrompt: true},
		},
		client: anthropic.NewClient(opts...),
	}, nil
}

func (d *AnthropicDriver) CountTokens(req models.GenerateRequest) (int, error) {
	return estimateTokens(req), nil
}

func (d *AnthropicDriver) buildParams(req models.GenerateRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = d.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
	}

	var system string
	var msgs []anthropic.MessageParam
	for _, m := range req.Messages {
		if m.Role == models.RoleSystem {
			system += flattenText(m)
			continue
		}
		role := anthropic.MessageParamRoleUser
		if m.Role == models.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		msgs = append(msgs, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(flattenText(m))},
		})
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	params.Messages = msgs

	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
			},
		})
	}
	return params
}

func flattenText(m models.Message) string {
	var out string
	for _, in := range m.Content {
		if in.Kind == models.InputText {
			out += in.Text
		}
	}
	return out
}

func (d *AnthropicDriver) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	var resp models.GenerateResponse
	err := ratelimit.DoRetryable(ctx, func() error {
		params := d.buildParams(req)
		msg, err := d.client.Messages.New(ctx, params)
		if err != nil {
			return classify.ClassifyHTTPStatus(statusFromAnthropicErr(err), err)
		}
		resp = convertAnthropicMessage(msg)
		return nil
	})
	return resp, err
}

func (d *AnthropicDriver) GenerateStream(ctx context.Context, req models.GenerateRequest) (<-chan models.StreamChunk, <-chan error) {
	out := make(chan models.StreamChunk)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		err := ratelimit.DoRetryable(ctx, func() error {
			params := d.buildParams(req)
			stream := d.client.Messages.NewStreaming(ctx, params)
			for stream.Next() {
				event := stream.Current()
				switch delta := event.AsAny().(type) {
				case anthropic.ContentBlockDeltaEvent:
					if delta.Delta.Text != "" {
						select {
						case out <- models.StreamChunk{Content: models.Output{Kind: models.OutputText, Text: delta.Delta.Text}}:
						case <-ctx.Done():
							return ctx.Err()
						}
					}
				case anthropic.MessageDeltaEvent:
					if string(delta.Delta.StopReason) != "" {
						select {
						case out <- models.StreamChunk{IsFinal: true, FinishReason: mapAnthropicStop(string(delta.Delta.StopReason))}:
						case <-ctx.Done():
							return ctx.Err()
						}
					}
				}
			}
			if err := stream.Err(); err != nil {
				return classify.ClassifyHTTPStatus(statusFromAnthropicErr(err), err)
			}
			return nil
		})
		if err != nil {
			errc <- err
		}
	}()

	return out, errc
}

func convertAnthropicMessage(msg *anthropic.Message) models.GenerateResponse {
	resp := models.GenerateResponse{
		FinishReason: mapAnthropicStop(string(msg.StopReason)),
		Usage: models.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Outputs = append(resp.Outputs, models.Output{Kind: models.OutputText, Text: b.Text})
		case anthropic.ToolUseBlock:
			resp.Outputs = append(resp.Outputs, models.Output{
				Kind: models.OutputToolCalls,
				ToolCalls: []models.ToolCall{{
					ID:        b.ID,
					Name:      b.Name,
					Arguments: b.Input,
				}},
			})
		}
	}
	return resp
}

func mapAnthropicStop(reason string) models.FinishReason {
	switch reason {
	case "end_turn":
		return models.FinishStop
	case "max_tokens":
		return models.FinishLength
	case "stop_sequence":
		return models.FinishStopSequence
	case "tool_use":
		return models.FinishToolUse
	default:
		return models.FinishOther
	}
}

// statusFromAnthropicErr extracts the HTTP status the SDK embeds in its
// *anthropic.Error wrapper, falling back to 500 when the error doesn't carry
// one (network failures, context cancellation surfaced through the SDK).
func statusFromAnthropicErr(err error) int {
	var apiErr *anthropic.Error
	if ok := asAnthropicError(err, &apiErr); ok {
		return apiErr.StatusCode
	}
	return 500
}

func asAnthropicError(err error, target **anthropic.Error) bool {
	for err != nil {
		if ae, ok := err.(*anthropic.Error); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
