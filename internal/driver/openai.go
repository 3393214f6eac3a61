package driver

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/veridianlabs/storycore/internal/classify"
	"github.com/veridianlabs/storycore/internal/models"
	"github.com/veridianlabs/storycore/internal/ratelimit"
)

// OpenAIConfig configures an OpenAI-backed Driver.
type OpenAIConfig struct {
	APIKey string
	Model  string
	Tier   ratelimit.TierConfig
}

// OpenAIDriver adapts the Chat Completions API to the Driver contract.
type OpenAIDriver struct {
	base
	client *openai.Client
}

func NewOpenAIDriver(cfg OpenAIConfig) (*OpenAIDriver, error) {
	if cfg.APIKey == "" {
		return nil, classify.New(classify.KindConfiguration, "openai: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIDriver{
		base: base{
			provider: "openai",
			model:    model,
			tier:     cfg.Tier,
			caps:     Capabilities{Streaming: true, Tools: true, Vision: true, SystemPrompt: true},
		},
		client: openai.NewClient(cfg.APIKey),
	}, nil
}

func (d *OpenAIDriver) CountTokens(req models.GenerateRequest) (int, error) {
	return estimateTokens(req), nil
}

func (d *OpenAIDriver) buildRequest(req models.GenerateRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = d.model
	}
	out := openai.ChatCompletionRequest{
		Model:    model,
		Stream:   stream,
		Messages: convertOpenAIMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return out
}

func convertOpenAIMessages(msgs []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: flattenText(m)})
	}
	return out
}

func (d *OpenAIDriver) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	var resp models.GenerateResponse
	err := ratelimit.DoRetryable(ctx, func() error {
		out, err := d.client.CreateChatCompletion(ctx, d.buildRequest(req, false))
		if err != nil {
			return classify.ClassifyHTTPStatus(statusFromOpenAIErr(err), err)
		}
		resp = convertOpenAIResponse(out)
		return nil
	})
	return resp, err
}

func (d *OpenAIDriver) GenerateStream(ctx context.Context, req models.GenerateRequest) (<-chan models.StreamChunk, <-chan error) {
	out := make(chan models.StreamChunk)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		err := ratelimit.DoRetryable(ctx, func() error {
			stream, err := d.client.CreateChatCompletionStream(ctx, d.buildRequest(req, true))
			if err != nil {
				return classify.ClassifyHTTPStatus(statusFromOpenAIErr(err), err)
			}
			defer stream.Close()
			for {
				chunk, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return classify.ClassifyCondition(classify.ConditionStreamInterrupted, err)
				}
				if len(chunk.Choices) == 0 {
					continue
				}
				choice := chunk.Choices[0]
				send := models.StreamChunk{Content: models.Output{Kind: models.OutputText, Text: choice.Delta.Content}}
				if choice.FinishReason != "" {
					send.IsFinal = true
					send.FinishReason = mapOpenAIFinish(string(choice.FinishReason))
				}
				select {
				case out <- send:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
		if err != nil {
			errc <- err
		}
	}()

	return out, errc
}

func convertOpenAIResponse(out openai.ChatCompletionResponse) models.GenerateResponse {
	resp := models.GenerateResponse{
		Usage: models.TokenUsage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
		},
	}
	if len(out.Choices) > 0 {
		choice := out.Choices[0]
		if choice.Message.Content != "" {
			resp.Outputs = append(resp.Outputs, models.Output{Kind: models.OutputText, Text: choice.Message.Content})
		}
		for _, tc := range choice.Message.ToolCalls {
			resp.Outputs = append(resp.Outputs, models.Output{
				Kind: models.OutputToolCalls,
				ToolCalls: []models.ToolCall{{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: []byte(tc.Function.Arguments),
				}},
			})
		}
		resp.FinishReason = mapOpenAIFinish(string(choice.FinishReason))
	}
	if resp.FinishReason == "" {
		resp.FinishReason = models.FinishStop
	}
	return resp
}

func mapOpenAIFinish(reason string) models.FinishReason {
	switch reason {
	case "stop":
		return models.FinishStop
	case "length":
		return models.FinishLength
	case "tool_calls":
		return models.FinishToolUse
	case "content_filter":
		return models.FinishContentFilter
	default:
		return models.FinishOther
	}
}

func statusFromOpenAIErr(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 500
}
