// Package tracker implements the execution tracker and circuit breaker for
// scheduled task runs: start/complete/fail bookkeeping plus the
// consecutive-failure counter that pauses a task once it trips.
package tracker

import (
	"context"
	"time"

	"github.com/veridianlabs/storycore/internal/repository"
)

// Tracker wraps a repository.TaskStore with the should_execute / start /
// complete / fail lifecycle the scheduler drives each tick.
type Tracker struct {
	Store       repository.TaskStore
	MaxFailures int
	Now         func() time.Time
}

func New(store repository.TaskStore, maxFailures int) *Tracker {
	return &Tracker{Store: store, MaxFailures: maxFailures, Now: time.Now}
}

// ShouldExecute reports whether taskID is enabled and not paused.
func (t *Tracker) ShouldExecute(ctx context.Context, taskID string) (bool, error) {
	state, err := t.Store.GetTaskState(ctx, taskID)
	if err != nil {
		return false, err
	}
	return state.Enabled && !state.Paused, nil
}

// StartExecution records a new running ExecutionRecord for taskID.
func (t *Tracker) StartExecution(ctx context.Context, taskID, actorName string) (string, error) {
	return t.Store.StartExecution(ctx, taskID, actorName)
}

// CompleteExecution marks execID successful and resets the consecutive
// failure counter. It does not resume a task the breaker already paused.
func (t *Tracker) CompleteExecution(ctx context.Context, taskID, execID, result string) error {
	if err := t.Store.CompleteExecution(ctx, execID, result); err != nil {
		return err
	}
	return t.Store.RecordSuccess(ctx, taskID)
}

// FailExecution marks execID failed, increments the consecutive-failure
// counter, and pauses the task if the counter now strictly exceeds
// MaxFailures. It returns whether the circuit breaker tripped.
func (t *Tracker) FailExecution(ctx context.Context, taskID, execID, errText string) (tripped bool, err error) {
	if err := t.Store.FailExecution(ctx, execID, errText); err != nil {
		return false, err
	}
	exceeded, err := t.Store.RecordFailure(ctx, taskID, t.MaxFailures)
	if err != nil {
		return false, err
	}
	if exceeded {
		if err := t.Store.Pause(ctx, taskID); err != nil {
			return true, err
		}
	}
	return exceeded, nil
}

// UpdateNextRun records when taskID should next be considered by the
// scheduler.
func (t *Tracker) UpdateNextRun(ctx context.Context, taskID string, next *time.Time) error {
	return t.Store.UpdateNextRun(ctx, taskID, next)
}
