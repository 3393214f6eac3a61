package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veridianlabs/storycore/internal/repository"
	"github.com/veridianlabs/storycore/internal/tracker"
)

// TaskRunner executes one scheduled task's payload (typically running a
// narrative through the executor) and reports a result string on success.
type TaskRunner interface {
	RunTask(ctx context.Context, taskID, actorName string) (result string, err error)
}

// TaskRunnerFunc adapts a function to a TaskRunner.
type TaskRunnerFunc func(ctx context.Context, taskID, actorName string) (string, error)

func (f TaskRunnerFunc) RunTask(ctx context.Context, taskID, actorName string) (string, error) {
	return f(ctx, taskID, actorName)
}

// Entry binds a task id and its actor to the Schedule that governs it.
type Entry struct {
	TaskID    string
	ActorName string
	Schedule  Schedule
}

// Scheduler ticks over a set of entries, consulting TaskStore state for
// last-run bookkeeping and routing due tasks through a bounded worker pool.
type Scheduler struct {
	Store        repository.TaskStore
	Tracker      *tracker.Tracker
	Runner       TaskRunner
	Logger       *slog.Logger
	Now          func() time.Time
	TickInterval time.Duration
	Workers      int

	mu      sync.Mutex
	entries []Entry
	started bool
	wg      sync.WaitGroup
}

// New builds a Scheduler over store, using tr for the circuit-breaker
// lifecycle and runner to execute due tasks.
func New(store repository.TaskStore, tr *tracker.Tracker, runner TaskRunner) *Scheduler {
	return &Scheduler{
		Store:        store,
		Tracker:      tr,
		Runner:       runner,
		Logger:       slog.Default().With("component", "scheduler"),
		Now:          time.Now,
		TickInterval: time.Second,
		Workers:      4,
	}
}

// Register adds or replaces the Schedule entry for a taskID.
func (s *Scheduler) Register(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.entries {
		if existing.TaskID == e.TaskID {
			s.entries[i] = e
			return
		}
	}
	s.entries = append(s.entries, e)
}

// Unregister removes the entry for taskID, if present.
func (s *Scheduler) Unregister(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.TaskID == taskID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// Start runs the tick loop in a background goroutine until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunDue(ctx)
			}
		}
	}()
}

// Stop blocks until the tick loop exits.
func (s *Scheduler) Stop() {
	s.wg.Wait()
}

// RunDue evaluates every entry against current TaskStore state and fans due
// tasks out across a bounded worker pool, returning how many it ran.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.Now()
	s.mu.Lock()
	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0

	for _, entry := range entries {
		due, err := s.isDue(ctx, entry, now)
		if err != nil {
			s.Logger.Warn("scheduler state lookup failed", "task_id", entry.TaskID, "error", err)
			continue
		}
		if !due {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(e Entry) {
			defer wg.Done()
			defer func() { <-sem }()
			s.runEntry(ctx, e, now)
			mu.Lock()
			count++
			mu.Unlock()
		}(entry)
	}
	wg.Wait()
	return count
}

func (s *Scheduler) isDue(ctx context.Context, entry Entry, now time.Time) (bool, error) {
	should, err := s.Tracker.ShouldExecute(ctx, entry.TaskID)
	if err != nil {
		return false, err
	}
	if !should {
		return false, nil
	}
	state, err := s.Store.GetTaskState(ctx, entry.TaskID)
	if err != nil {
		return false, err
	}
	due, _ := entry.Schedule.Check(now, state.LastRun)
	return due, nil
}

func (s *Scheduler) runEntry(ctx context.Context, entry Entry, now time.Time) {
	execID, err := s.Tracker.StartExecution(ctx, entry.TaskID, entry.ActorName)
	if err != nil {
		s.Logger.Warn("scheduler start execution failed", "task_id", entry.TaskID, "error", err)
		return
	}

	result, runErr := s.Runner.RunTask(ctx, entry.TaskID, entry.ActorName)

	if runErr != nil {
		tripped, err := s.Tracker.FailExecution(ctx, entry.TaskID, execID, runErr.Error())
		if err != nil {
			s.Logger.Warn("scheduler fail-execution bookkeeping failed", "task_id", entry.TaskID, "error", err)
		}
		if tripped {
			s.Logger.Warn("scheduler circuit breaker tripped, task paused", "task_id", entry.TaskID)
		}
	} else if err := s.Tracker.CompleteExecution(ctx, entry.TaskID, execID, result); err != nil {
		s.Logger.Warn("scheduler complete-execution bookkeeping failed", "task_id", entry.TaskID, "error", err)
	}

	if state, err := s.Store.GetTaskState(ctx, entry.TaskID); err != nil {
		s.Logger.Warn("scheduler record-last-run failed", "task_id", entry.TaskID, "error", err)
	} else {
		state.LastRun = &now
		if err := s.Store.SaveTaskState(ctx, state); err != nil {
			s.Logger.Warn("scheduler record-last-run failed", "task_id", entry.TaskID, "error", err)
		}
	}

	next, ok := entry.Schedule.NextExecution(now)
	if !ok {
		return
	}
	if err := s.Tracker.UpdateNextRun(ctx, entry.TaskID, &next); err != nil {
		s.Logger.Warn("scheduler update-next-run failed", "task_id", entry.TaskID, "error", err)
	}
}

// LoadEntries rebuilds Scheduler entries from every enabled TaskState,
// pairing each with the Schedule passed in scheduleFor (looked up by task
// id), so callers can drive registration from durable configuration instead
// of hardcoding it at startup.
func (s *Scheduler) LoadEntries(ctx context.Context, scheduleFor func(taskID string) (Schedule, bool)) error {
	states, err := s.Store.ListEnabledTasks(ctx)
	if err != nil {
		return fmt.Errorf("list enabled tasks: %w", err)
	}
	for _, state := range states {
		sched, ok := scheduleFor(state.TaskID)
		if !ok {
			continue
		}
		s.Register(Entry{TaskID: state.TaskID, ActorName: state.ActorName, Schedule: sched})
	}
	return nil
}
