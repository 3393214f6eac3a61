package actor

import (
	"context"
	"testing"
	"time"

	"github.com/veridianlabs/storycore/internal/blobstore"
	"github.com/veridianlabs/storycore/internal/classify"
	"github.com/veridianlabs/storycore/internal/driver"
	"github.com/veridianlabs/storycore/internal/executor"
	"github.com/veridianlabs/storycore/internal/models"
	"github.com/veridianlabs/storycore/internal/narrative"
	"github.com/veridianlabs/storycore/internal/ratelimit"
	"github.com/veridianlabs/storycore/internal/repository"
	"github.com/veridianlabs/storycore/internal/resolver"
)

type stubDriver struct{}

func (stubDriver) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	return models.GenerateResponse{
		Outputs:      []models.Output{{Kind: models.OutputText, Text: "done"}},
		FinishReason: models.FinishStop,
		Usage:        models.TokenUsage{InputTokens: 5, OutputTokens: 3},
	}, nil
}

func (stubDriver) GenerateStream(ctx context.Context, req models.GenerateRequest) (<-chan models.StreamChunk, <-chan error) {
	out := make(chan models.StreamChunk)
	errc := make(chan error)
	close(out)
	close(errc)
	return out, errc
}

func (stubDriver) ProviderName() string { return "stub" }
func (stubDriver) ModelName() string    { return "onboarding" }
func (stubDriver) RateLimits() ratelimit.TierConfig {
	return ratelimit.TierConfig{Name: "stub"}
}
func (stubDriver) CountTokens(req models.GenerateRequest) (int, error) { return 5, nil }
func (stubDriver) Capabilities() driver.Capabilities                  { return driver.Capabilities{} }

func TestNarrativeSkill_ExecuteRunsBoundNarrative(t *testing.T) {
	n := &narrative.Narrative{
		Metadata: narrative.Metadata{Name: "onboarding"},
		TOC:      []string{"welcome"},
		Acts:     map[string]narrative.Act{"welcome": {Prompt: "Say hi"}},
	}
	registry := driver.NewRegistry()
	registry.RegisterFallback(stubDriver{})

	skill := &NarrativeSkill{
		SkillNameValue: "run_onboarding",
		Executor:       &executor.Executor{Drivers: registry, Resolver: resolver.New()},
		Narrative:      n,
	}

	out, err := skill.Execute(context.Background(), &SkillContext{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.SkillName != "run_onboarding" {
		t.Fatalf("unexpected skill name: %q", out.SkillName)
	}
	if len(out.Data) == 0 {
		t.Fatal("expected non-empty execution trace data")
	}
}

func TestRateLimitAwareSkill_DeclinesWhenPatienceExceeded(t *testing.T) {
	limiter := ratelimit.New(ratelimit.TierConfig{Name: "tight", RPM: 1, TPM: 100000}, nil)
	guard, err := limiter.Acquire(context.Background(), 10)
	if err != nil {
		t.Fatalf("prime limiter: %v", err)
	}
	defer guard.Release()

	inner := &fakeSkill{name: "post", run: func(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
		t.Fatal("inner skill should not run when patience is exceeded")
		return SkillOutput{}, nil
	}}
	wrapped := &RateLimitAwareSkill{Inner: inner, Limiter: limiter, Patience: time.Millisecond, EstimatedTokens: 10}

	_, err = wrapped.Execute(context.Background(), &SkillContext{})
	if !classify.Is(err, classify.KindRateLimitExceeded) {
		t.Fatalf("expected KindRateLimitExceeded, got %v", err)
	}
}

func TestRateLimitAwareSkill_RunsWhenWithinPatience(t *testing.T) {
	limiter := ratelimit.New(ratelimit.TierConfig{Name: "loose", RPM: 1000, TPM: 1000000}, nil)
	ran := false
	inner := &fakeSkill{name: "post", run: func(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
		ran = true
		return SkillOutput{SkillName: "post"}, nil
	}}
	wrapped := &RateLimitAwareSkill{Inner: inner, Limiter: limiter, Patience: time.Second, EstimatedTokens: 10}

	if _, err := wrapped.Execute(context.Background(), &SkillContext{}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !ran {
		t.Fatal("expected inner skill to run")
	}
}

func TestSchedulingSkill_ReportsTaskState(t *testing.T) {
	store := repository.NewMemory(blobstore.NewLocalStore(t.TempDir()))
	ctx := context.Background()
	if err := store.SaveTaskState(ctx, &repository.TaskState{TaskID: "t1", ActorName: "poster", Enabled: true}); err != nil {
		t.Fatalf("save task state: %v", err)
	}

	skill := &SchedulingSkill{SkillNameValue: "task_status", Store: store, TaskID: "t1"}
	out, err := skill.Execute(ctx, &SkillContext{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(out.Data) == 0 {
		t.Fatal("expected non-empty task state data")
	}
}

func TestSchedulingSkill_MissingTaskFails(t *testing.T) {
	store := repository.NewMemory(blobstore.NewLocalStore(t.TempDir()))
	skill := &SchedulingSkill{SkillNameValue: "task_status", Store: store, TaskID: "missing"}
	if _, err := skill.Execute(context.Background(), &SkillContext{}); err == nil {
		t.Fatal("expected missing task to fail")
	}
}
