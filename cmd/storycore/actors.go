package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veridianlabs/storycore/internal/actor"
	"github.com/veridianlabs/storycore/internal/classify"
	"github.com/veridianlabs/storycore/internal/config"
	"github.com/veridianlabs/storycore/internal/repository"
	"github.com/veridianlabs/storycore/internal/scheduler"
)

// buildActors registers a SchedulingSkill per actor into skills (so every
// actor can introspect its own task state) and builds one actor.Actor per
// config.ActorConfig, keyed by name.
func buildActors(cfg *config.Config, repo repository.Repository, skills *actor.Registry) (map[string]*actor.Actor, error) {
	actors := make(map[string]*actor.Actor, len(cfg.Actors))
	for _, ac := range cfg.Actors {
		skills.Register(&actor.SchedulingSkill{
			SkillNameValue: ac.Name + ".status",
			Store:          repo,
			TaskID:         ac.Name,
		})

		knowledge, err := loadKnowledge(context.Background(), repo, ac.Knowledge)
		if err != nil {
			return nil, fmt.Errorf("actor %q: %w", ac.Name, err)
		}

		actors[ac.Name] = &actor.Actor{
			Name:      ac.Name,
			Skills:    ac.Skills,
			Knowledge: knowledge,
			Config:    map[string]string{},
			Platform:  &actor.NoopPlatform{},
			Policy: actor.ExecutionPolicy{
				ContinueOnError:     ac.Execution.ContinueOnError,
				StopOnUnrecoverable: ac.Execution.StopOnUnrecoverable,
				MaxRetries:          ac.Execution.MaxRetries,
			},
			Registry: skills,
		}
	}
	return actors, nil
}

// loadKnowledge resolves each named knowledge table to its currently
// approved rows, giving a skill's SkillContext a typed view of persisted
// content rather than raw repository access.
func loadKnowledge(ctx context.Context, repo repository.Repository, tables []string) (map[string][]json.RawMessage, error) {
	out := make(map[string][]json.RawMessage, len(tables))
	for _, table := range tables {
		rows, err := repo.ListContent(ctx, table, repository.ReviewApproved, 0)
		if err != nil {
			return nil, fmt.Errorf("load knowledge table %q: %w", table, err)
		}
		values := make([]json.RawMessage, 0, len(rows))
		for _, row := range rows {
			values = append(values, row.Content)
		}
		out[table] = values
	}
	return out, nil
}

// actorTaskRunner adapts a built actor map to the scheduler's TaskRunner
// contract: taskID and actorName are the same string, the actor's own name.
func actorTaskRunner(actors map[string]*actor.Actor) scheduler.TaskRunnerFunc {
	return func(ctx context.Context, taskID, actorName string) (string, error) {
		a, ok := actors[actorName]
		if !ok {
			return "", classify.New(classify.KindConfiguration, fmt.Sprintf("no actor registered for %q", actorName))
		}
		result := a.Run(ctx)
		if len(result.Failed) > 0 && !a.Policy.ContinueOnError {
			return "", fmt.Errorf("actor %q: skill %q failed: %w", actorName, result.Failed[0].Name, result.Failed[0].Err)
		}
		return fmt.Sprintf("succeeded=%d failed=%d skipped=%d", len(result.Succeeded), len(result.Failed), len(result.Skipped)), nil
	}
}

// seedScheduleEntries converts each actor's ActorScheduleConfig into a
// scheduler.Schedule, seeds its initial TaskState if one isn't already
// durable, and registers the resulting Entry.
func seedScheduleEntries(sched *scheduler.Scheduler, cfg *config.Config) error {
	for _, ac := range cfg.Actors {
		sc, err := buildSchedule(ac.Schedule)
		if err != nil {
			return fmt.Errorf("actor %q: %w", ac.Name, err)
		}

		if _, err := sched.Store.GetTaskState(context.Background(), ac.Name); err != nil {
			state := &repository.TaskState{TaskID: ac.Name, ActorName: ac.Name, Enabled: true}
			if err := sched.Store.SaveTaskState(context.Background(), state); err != nil {
				return fmt.Errorf("actor %q: seed task state: %w", ac.Name, err)
			}
		}

		sched.Register(scheduler.Entry{TaskID: ac.Name, ActorName: ac.Name, Schedule: sc})
	}
	return nil
}

func buildSchedule(sc config.ActorScheduleConfig) (scheduler.Schedule, error) {
	switch sc.Kind {
	case "immediate":
		return scheduler.NewImmediateSchedule(), nil
	case "once":
		at, err := time.Parse(time.RFC3339, sc.At)
		if err != nil {
			return scheduler.Schedule{}, fmt.Errorf("parse schedule.at: %w", err)
		}
		return scheduler.NewOnceSchedule(at), nil
	case "interval":
		return scheduler.NewIntervalSchedule(sc.Every), nil
	case "cron":
		return scheduler.NewCronSchedule(sc.CronExpr)
	default:
		return scheduler.Schedule{}, classify.New(classify.KindConfiguration, fmt.Sprintf("unrecognized schedule kind %q", sc.Kind))
	}
}
