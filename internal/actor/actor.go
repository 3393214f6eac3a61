package actor

import (
	"context"
	"encoding/json"

	"github.com/veridianlabs/storycore/internal/classify"
)

// ExecutionPolicy mirrors config.ActorExecutionConfig: how an actor run
// reacts to a failing skill.
type ExecutionPolicy struct {
	ContinueOnError     bool
	StopOnUnrecoverable bool
	MaxRetries          int
}

// SkillFailure pairs a skill name with the error its execution produced.
type SkillFailure struct {
	Name string
	Err  error
}

// RunResult aggregates one actor run: which skills succeeded, which
// failed (with their classified error), and which were skipped because an
// earlier unrecoverable failure stopped the run.
type RunResult struct {
	Succeeded []string
	Failed    []SkillFailure
	Skipped   []string
}

// Actor is a named configuration that walks its declared skill list in
// order against a shared registry.
type Actor struct {
	Name      string
	Skills    []string
	Knowledge map[string][]json.RawMessage
	Config    map[string]string
	Platform  SocialPlatform
	Policy    ExecutionPolicy
	Registry  *Registry
}

// recoverableKinds holds the error classifications Run treats as
// recoverable: worth retrying within MaxRetries rather than stopping the
// whole actor run immediately.
var recoverableKinds = map[classify.Kind]bool{
	classify.KindRateLimitExceeded: true,
	classify.KindProviderTransient: true,
}

func isRecoverable(err error) bool {
	return recoverableKinds[classify.KindOf(err)]
}

// Run walks a.Skills in declared order, executing each through a.Registry.
// A recoverable failure is retried up to Policy.MaxRetries times before
// being recorded as failed. An unrecoverable failure stops the run (and
// skips every remaining skill) when Policy.StopOnUnrecoverable holds;
// otherwise, if Policy.ContinueOnError holds, the run moves on to the next
// skill regardless of failure kind.
func (a *Actor) Run(ctx context.Context) RunResult {
	result := RunResult{}
	sctx := &SkillContext{
		Knowledge: a.Knowledge,
		Config:    a.Config,
		Platform:  a.Platform,
	}

	stopped := false
	for i, name := range a.Skills {
		if stopped {
			result.Skipped = append(result.Skipped, a.Skills[i:]...)
			break
		}

		_, err := a.runWithRetries(ctx, name, sctx)
		if err == nil {
			result.Succeeded = append(result.Succeeded, name)
			continue
		}

		result.Failed = append(result.Failed, SkillFailure{Name: name, Err: err})

		if a.Policy.StopOnUnrecoverable && !isRecoverable(err) {
			stopped = true
		} else if a.Policy.StopOnUnrecoverable && isRecoverable(err) {
			// recoverable failures never stop a run by themselves; only
			// an unrecoverable one trips StopOnUnrecoverable.
		} else if !a.Policy.ContinueOnError && !a.Policy.StopOnUnrecoverable {
			stopped = true
		}
	}
	return result
}

func (a *Actor) runWithRetries(ctx context.Context, name string, sctx *SkillContext) (SkillOutput, error) {
	maxRetries := a.Policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		out, err := a.Registry.Execute(ctx, name, sctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRecoverable(err) {
			return SkillOutput{}, err
		}
		if ctx.Err() != nil {
			return SkillOutput{}, ctx.Err()
		}
	}
	return SkillOutput{}, lastErr
}
