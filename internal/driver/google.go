package driver

import (
	"context"

	"google.golang.org/genai"

	"github.com/veridianlabs/storycore/internal/classify"
	"github.com/veridianlabs/storycore/internal/models"
	"github.com/veridianlabs/storycore/internal/ratelimit"
)

// GoogleConfig configures a Gemini-backed Driver.
type GoogleConfig struct {
	APIKey string
	Model  string
	Tier   ratelimit.TierConfig
}

// GoogleDriver adapts the Gemini Generative Language API to the Driver
// contract via the genai client.
type GoogleDriver struct {
	base
	client *genai.Client
}

func NewGoogleDriver(ctx context.Context, cfg GoogleConfig) (*GoogleDriver, error) {
	if cfg.APIKey == "" {
		return nil, classify.New(classify.KindConfiguration, "google: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, classify.Wrap(classify.KindConfiguration, "google: client init failed", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-pro"
	}
	return &GoogleDriver{
		base: base{
			provider: "google",
			model:    model,
			tier:     cfg.Tier,
			caps:     Capabilities{Streaming: true, Tools: true, Vision: true, SystemPrompt: true},
		},
		client: client,
	}, nil
}

func (d *GoogleDriver) CountTokens(req models.GenerateRequest) (int, error) {
	return estimateTokens(req), nil
}

func (d *GoogleDriver) buildContents(req models.GenerateRequest) (string, []*genai.Content) {
	var system string
	var contents []*genai.Content
	for _, m := range req.Messages {
		if m.Role == models.RoleSystem {
			system += flattenText(m)
			continue
		}
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(flattenText(m))},
		})
	}
	return system, contents
}

func (d *GoogleDriver) generateConfig(req models.GenerateRequest, system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, "system")
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	return cfg
}

func (d *GoogleDriver) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	var resp models.GenerateResponse
	err := ratelimit.DoRetryable(ctx, func() error {
		model := req.Model
		if model == "" {
			model = d.model
		}
		system, contents := d.buildContents(req)
		out, err := d.client.Models.GenerateContent(ctx, model, contents, d.generateConfig(req, system))
		if err != nil {
			return classify.ClassifyHTTPStatus(statusFromGenaiErr(err), err)
		}
		resp = convertGenaiResponse(out)
		return nil
	})
	return resp, err
}

func (d *GoogleDriver) GenerateStream(ctx context.Context, req models.GenerateRequest) (<-chan models.StreamChunk, <-chan error) {
	out := make(chan models.StreamChunk)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		err := ratelimit.DoRetryable(ctx, func() error {
			model := req.Model
			if model == "" {
				model = d.model
			}
			system, contents := d.buildContents(req)
			for chunk, err := range d.client.Models.GenerateContentStream(ctx, model, contents, d.generateConfig(req, system)) {
				if err != nil {
					return classify.ClassifyCondition(classify.ConditionStreamInterrupted, err)
				}
				resp := convertGenaiResponse(chunk)
				for _, o := range resp.Outputs {
					select {
					case out <- models.StreamChunk{Content: o, Usage: resp.Usage}:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			select {
			case out <- models.StreamChunk{IsFinal: true, FinishReason: models.FinishStop}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			errc <- err
		}
	}()

	return out, errc
}

func convertGenaiResponse(out *genai.GenerateContentResponse) models.GenerateResponse {
	var resp models.GenerateResponse
	if len(out.Candidates) > 0 {
		cand := out.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					resp.Outputs = append(resp.Outputs, models.Output{Kind: models.OutputText, Text: part.Text})
				}
			}
		}
		resp.FinishReason = mapGenaiFinish(string(cand.FinishReason))
	}
	if out.UsageMetadata != nil {
		resp.Usage = models.TokenUsage{
			InputTokens:  int(out.UsageMetadata.PromptTokenCount),
			OutputTokens: int(out.UsageMetadata.CandidatesTokenCount),
		}
	}
	return resp
}

func mapGenaiFinish(reason string) models.FinishReason {
	switch reason {
	case "STOP":
		return models.FinishStop
	case "MAX_TOKENS":
		return models.FinishLength
	case "SAFETY", "RECITATION":
		return models.FinishContentFilter
	default:
		return models.FinishOther
	}
}

func statusFromGenaiErr(err error) int {
	var apiErr genai.APIError
	if ok := tryAsGenaiAPIError(err, &apiErr); ok {
		return apiErr.Code
	}
	return 500
}

func tryAsGenaiAPIError(err error, target *genai.APIError) bool {
	if ae, ok := err.(genai.APIError); ok {
		*target = ae
		return true
	}
	return false
}
