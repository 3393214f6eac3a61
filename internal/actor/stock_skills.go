package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veridianlabs/storycore/internal/classify"
	"github.com/veridianlabs/storycore/internal/executor"
	"github.com/veridianlabs/storycore/internal/narrative"
	"github.com/veridianlabs/storycore/internal/ratelimit"
	"github.com/veridianlabs/storycore/internal/repository"
)

// NarrativeSkill wraps the narrative executor (C6) so an actor run can
// drive a named narrative as one of its skills.
type NarrativeSkill struct {
	SkillNameValue string
	Description_   string
	Executor       *executor.Executor
	Narrative      *narrative.Narrative
}

func (s *NarrativeSkill) Name() string        { return s.SkillNameValue }
func (s *NarrativeSkill) Description() string { return s.Description_ }

// Execute runs the bound narrative to completion and reports the full
// execution trace, JSON-encoded, as the skill output data.
func (s *NarrativeSkill) Execute(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
	exec, _, err := s.Executor.Run(ctx, s.Narrative)
	if err != nil {
		return SkillOutput{}, err
	}
	data, encErr := json.Marshal(exec)
	if encErr != nil {
		return SkillOutput{}, classify.Wrap(classify.KindToolExecutionFailed, "marshal narrative execution", encErr)
	}
	return SkillOutput{SkillName: s.Name(), Data: data}, nil
}

// RateLimitAwareSkill wraps another skill, declining to run it when the
// shared limiter reports it would block past a configured patience window
// instead of sitting in the admission queue.
type RateLimitAwareSkill struct {
	Inner           Skill
	Limiter         *ratelimit.Limiter
	Patience        time.Duration
	EstimatedTokens int
}

func (s *RateLimitAwareSkill) Name() string        { return s.Inner.Name() }
func (s *RateLimitAwareSkill) Description() string { return s.Inner.Description() }

// Execute declines immediately (a classify.KindRateLimitExceeded error,
// recoverable) if the limiter would make this call wait past s.Patience;
// otherwise it delegates to the wrapped skill.
func (s *RateLimitAwareSkill) Execute(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
	if s.Limiter != nil && s.Limiter.WouldBlockPast(s.Patience, s.EstimatedTokens) {
		return SkillOutput{}, classify.RateLimitExceeded(int(s.Patience.Seconds()))
	}
	return s.Inner.Execute(ctx, sctx)
}

// SchedulingSkill reports the scheduler's current TaskState for an
// introspection actor, rather than driving execution itself.
type SchedulingSkill struct {
	SkillNameValue string
	Store          repository.TaskStore
	TaskID         string
}

func (s *SchedulingSkill) Name() string        { return s.SkillNameValue }
func (s *SchedulingSkill) Description() string { return "reports the current scheduler task state" }

// Execute looks up s.TaskID's TaskState and reports it as SkillOutput data.
func (s *SchedulingSkill) Execute(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
	state, err := s.Store.GetTaskState(ctx, s.TaskID)
	if err != nil {
		return SkillOutput{}, classify.Wrap(classify.KindToolExecutionFailed, fmt.Sprintf("load task state for %q", s.TaskID), err)
	}
	data, encErr := json.Marshal(state)
	if encErr != nil {
		return SkillOutput{}, classify.Wrap(classify.KindToolExecutionFailed, "marshal task state", encErr)
	}
	return SkillOutput{SkillName: s.Name(), Data: data}, nil
}
