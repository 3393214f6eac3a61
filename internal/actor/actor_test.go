package actor

import (
	"context"
	"testing"

	"github.com/veridianlabs/storycore/internal/classify"
)

func newRegistry(skills ...Skill) *Registry {
	r := NewRegistry()
	for _, s := range skills {
		r.Register(s)
	}
	return r
}

func TestActor_Run_AllSucceed(t *testing.T) {
	a := &Actor{
		Name:   "poster",
		Skills: []string{"a", "b"},
		Registry: newRegistry(
			&fakeSkill{name: "a", run: func(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
				return SkillOutput{SkillName: "a"}, nil
			}},
			&fakeSkill{name: "b", run: func(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
				return SkillOutput{SkillName: "b"}, nil
			}},
		),
	}
	result := a.Run(context.Background())
	if len(result.Succeeded) != 2 || len(result.Failed) != 0 || len(result.Skipped) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestActor_Run_UnrecoverableStopsWhenConfigured(t *testing.T) {
	a := &Actor{
		Name:   "poster",
		Skills: []string{"a", "b", "c"},
		Policy: ExecutionPolicy{StopOnUnrecoverable: true},
		Registry: newRegistry(
			&fakeSkill{name: "a", run: func(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
				return SkillOutput{}, nil
			}},
			&fakeSkill{name: "b", run: func(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
				return SkillOutput{}, classify.New(classify.KindProviderPermanent, "auth failed")
			}},
			&fakeSkill{name: "c", run: func(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
				t.Fatal("skill c should never run")
				return SkillOutput{}, nil
			}},
		),
	}
	result := a.Run(context.Background())
	if len(result.Succeeded) != 1 || len(result.Failed) != 1 || len(result.Skipped) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Skipped[0] != "c" {
		t.Fatalf("expected c skipped, got %+v", result.Skipped)
	}
}

func TestActor_Run_RecoverableFailureDoesNotTripStopOnUnrecoverable(t *testing.T) {
	calls := 0
	a := &Actor{
		Name:   "poster",
		Skills: []string{"a", "b"},
		Policy: ExecutionPolicy{StopOnUnrecoverable: true},
		Registry: newRegistry(
			&fakeSkill{name: "a", run: func(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
				calls++
				return SkillOutput{}, classify.RateLimitExceeded(5)
			}},
			&fakeSkill{name: "b", run: func(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
				return SkillOutput{}, nil
			}},
		),
	}
	result := a.Run(context.Background())
	if len(result.Succeeded) != 1 || result.Succeeded[0] != "b" {
		t.Fatalf("expected b to still run, got %+v", result)
	}
	if len(result.Failed) != 1 || result.Failed[0].Name != "a" {
		t.Fatalf("expected a recorded as failed, got %+v", result.Failed)
	}
}

func TestActor_Run_RetriesRecoverableFailureUpToMaxRetries(t *testing.T) {
	attempts := 0
	a := &Actor{
		Name:   "poster",
		Skills: []string{"a"},
		Policy: ExecutionPolicy{MaxRetries: 2},
		Registry: newRegistry(
			&fakeSkill{name: "a", run: func(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
				attempts++
				if attempts < 3 {
					return SkillOutput{}, classify.RateLimitExceeded(1)
				}
				return SkillOutput{SkillName: "a"}, nil
			}},
		),
	}
	result := a.Run(context.Background())
	if attempts != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", attempts)
	}
	if len(result.Succeeded) != 1 {
		t.Fatalf("expected eventual success, got %+v", result)
	}
}

func TestActor_Run_ContinueOnErrorRunsEverySkill(t *testing.T) {
	a := &Actor{
		Name:   "poster",
		Skills: []string{"a", "b"},
		Policy: ExecutionPolicy{ContinueOnError: true},
		Registry: newRegistry(
			&fakeSkill{name: "a", run: func(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
				return SkillOutput{}, classify.New(classify.KindProviderPermanent, "boom")
			}},
			&fakeSkill{name: "b", run: func(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
				return SkillOutput{}, nil
			}},
		),
	}
	result := a.Run(context.Background())
	if len(result.Failed) != 1 || len(result.Succeeded) != 1 || len(result.Skipped) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}
