package driver

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/veridianlabs/storycore/internal/classify"
	"github.com/veridianlabs/storycore/internal/models"
	"github.com/veridianlabs/storycore/internal/ratelimit"
)

// BedrockConfig configures a Bedrock Converse API backed Driver.
type BedrockConfig struct {
	Region string
	Model  string
	Tier   ratelimit.TierConfig
}

// BedrockClient narrows *bedrockruntime.Client to the calls this driver
// makes, so tests can substitute a fake.
type BedrockClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockDriver adapts AWS Bedrock's Converse API to the Driver contract,
// giving this registry a cloud-managed path to Anthropic/Meta/Amazon models
// alongside the direct-API drivers.
type BedrockDriver struct {
	base
	client BedrockClient
}

func NewBedrockDriver(ctx context.Context, cfg BedrockConfig) (*BedrockDriver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, classify.Wrap(classify.KindConfiguration, "bedrock: aws config load failed", err)
	}
	model := cfg.Model
	if model == "" {
		model = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	return &BedrockDriver{
		base: base{
			provider: "bedrock",
			model:    model,
			tier:     cfg.Tier,
			caps:     Capabilities{Streaming: true, Tools: true, Vision: false, SystemPrompt: true},
		},
		client: bedrockruntime.NewFromConfig(awsCfg),
	}, nil
}

func (d *BedrockDriver) CountTokens(req models.GenerateRequest) (int, error) {
	return estimateTokens(req), nil
}

func (d *BedrockDriver) buildMessages(req models.GenerateRequest) ([]types.SystemContentBlock, []types.Message) {
	var system []types.SystemContentBlock
	var out []types.Message
	for _, m := range req.Messages {
		text := flattenText(m)
		if m.Role == models.RoleSystem {
			system = append(system, &types.SystemContentBlockMemberText{Value: text})
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
		})
	}
	return system, out
}

func (d *BedrockDriver) inferenceConfig(req models.GenerateRequest) *types.InferenceConfiguration {
	cfg := &types.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		mt := int32(req.MaxTokens)
		cfg.MaxTokens = &mt
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	return cfg
}

func (d *BedrockDriver) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	var resp models.GenerateResponse
	err := ratelimit.DoRetryable(ctx, func() error {
		model := req.Model
		if model == "" {
			model = d.model
		}
		system, msgs := d.buildMessages(req)
		out, err := d.client.Converse(ctx, &bedrockruntime.ConverseInput{
			ModelId:         aws.String(model),
			System:          system,
			Messages:        msgs,
			InferenceConfig: d.inferenceConfig(req),
		})
		if err != nil {
			return classify.Wrap(classify.KindProviderTransient, "bedrock converse failed", err)
		}
		resp = convertBedrockOutput(out)
		return nil
	})
	return resp, err
}

func (d *BedrockDriver) GenerateStream(ctx context.Context, req models.GenerateRequest) (<-chan models.StreamChunk, <-chan error) {
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
			system, msgs := d.buildMessages(req)
			resp, err := d.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
				ModelId:         aws.String(model),
				System:          system,
				Messages:        msgs,
				InferenceConfig: d.inferenceConfig(req),
			})
			if err != nil {
				return classify.ClassifyCondition(classify.ConditionStreamInterrupted, err)
			}
			stream := resp.GetStream()
			defer stream.Close()
			for event := range stream.Events() {
				switch e := event.(type) {
				case *types.ConverseStreamOutputMemberContentBlockDelta:
					if textDelta, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
						select {
						case out <- models.StreamChunk{Content: models.Output{Kind: models.OutputText, Text: textDelta.Value}}:
						case <-ctx.Done():
							return ctx.Err()
						}
					}
				case *types.ConverseStreamOutputMemberMessageStop:
					select {
					case out <- models.StreamChunk{IsFinal: true, FinishReason: mapBedrockStop(string(e.Value.StopReason))}:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			if err := stream.Err(); err != nil {
				return classify.ClassifyCondition(classify.ConditionStreamInterrupted, err)
			}
			return nil
		})
		if err != nil {
			errc <- err
		}
	}()

	return out, errc
}

func convertBedrockOutput(out *bedrockruntime.ConverseOutput) models.GenerateResponse {
	var resp models.GenerateResponse
	if msgOut, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msgOut.Value.Content {
			if textBlock, ok := block.(*types.ContentBlockMemberText); ok {
				resp.Outputs = append(resp.Outputs, models.Output{Kind: models.OutputText, Text: textBlock.Value})
			}
		}
	}
	resp.FinishReason = mapBedrockStop(string(out.StopReason))
	if out.Usage != nil {
		resp.Usage = models.TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	return resp
}

func mapBedrockStop(reason string) models.FinishReason {
	switch types.StopReason(reason) {
	case types.StopReasonEndTurn:
		return models.FinishStop
	case types.StopReasonMaxTokens:
		return models.FinishLength
	case types.StopReasonToolUse:
		return models.FinishToolUse
	case types.StopReasonContentFiltered:
		return models.FinishContentFilter
	default:
		return models.FinishOther
	}
}
