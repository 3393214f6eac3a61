package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/veridianlabs/storycore/internal/actor"
	"github.com/veridianlabs/storycore/internal/classify"
	"github.com/veridianlabs/storycore/internal/executor"
	"github.com/veridianlabs/storycore/internal/narrative"
	"github.com/veridianlabs/storycore/internal/repository"
)

// loadNarratives reads every *.toml document under dir and merges their
// declared narratives into one map keyed by name. An empty dir is not an
// error: it means this deployment runs no narrative-backed skills, only the
// stock skills buildActors registers directly.
func loadNarratives(dir string) (map[string]*narrative.Narrative, error) {
	result := make(map[string]*narrative.Narrative)
	if dir == "" {
		return result, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.toml"))
	if err != nil {
		return nil, fmt.Errorf("glob narratives dir %q: %w", dir, err)
	}
	for _, path := range paths {
		parsed, err := narrative.ParseFile(path)
		if err != nil {
			return nil, fmt.Errorf("parse narrative file %q: %w", path, err)
		}
		for name, n := range parsed {
			if _, dup := result[name]; dup {
				return nil, classify.New(classify.KindConfiguration, fmt.Sprintf("narrative %q declared more than once under %q", name, dir))
			}
			result[name] = n
		}
	}
	return result, nil
}

// registerNarrativeSkills registers one NarrativeSkill per loaded narrative,
// named "narrative.<name>", so actor configs can reference it by that name
// in their skills list.
func registerNarrativeSkills(skills *actor.Registry, narratives map[string]*narrative.Narrative, exec *executor.Executor) {
	for name, n := range narratives {
		skills.Register(&actor.NarrativeSkill{
			SkillNameValue: "narrative." + name,
			Description_:   n.Metadata.Description,
			Executor:       exec,
			Narrative:      n,
		})
	}
}

// narrativeRunner adapts the loaded narrative set and executor to the
// resolver's NarrativeRunner contract, letting an Input::Narrative reference
// inside one narrative's act dispatch another by name. narratives is guarded
// by mu so a narrativeWatcher can swap in a freshly parsed set without
// racing a narrative currently mid-dispatch.
type narrativeRunner struct {
	mu         sync.RWMutex
	narratives map[string]*narrative.Narrative
	executor   *executor.Executor
}

func (r *narrativeRunner) RunNarrative(ctx context.Context, name string) (string, error) {
	r.mu.RLock()
	n, ok := r.narratives[name]
	r.mu.RUnlock()
	if !ok {
		return "", classify.New(classify.KindConfiguration, fmt.Sprintf("narrative %q is not loaded", name))
	}
	exec, _, err := r.executor.Run(ctx, n)
	if err != nil {
		return "", err
	}
	if len(exec.ActExecutions) == 0 {
		return "", nil
	}
	return exec.ActExecutions[len(exec.ActExecutions)-1].Response, nil
}

// Reload replaces the runnable narrative set, for use by narrativeWatcher.
func (r *narrativeRunner) Reload(narratives map[string]*narrative.Narrative) {
	r.mu.Lock()
	r.narratives = narratives
	r.mu.Unlock()
}

// contentTableLookup adapts a repository's approved content rows to the
// resolver's TableLookup contract. filter matches on top-level fields of
// each row's decoded JSON content; a row lacking a filtered field, or whose
// content doesn't decode as an object, is excluded rather than erroring.
type contentTableLookup struct {
	repo repository.Repository
}

func (l *contentTableLookup) QueryTable(ctx context.Context, name string, filter map[string]any, limit int) ([]map[string]any, error) {
	rows, err := l.repo.ListContent(ctx, name, repository.ReviewApproved, 0)
	if err != nil {
		return nil, fmt.Errorf("query table %q: %w", name, err)
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		var decoded map[string]any
		if err := json.Unmarshal(row.Content, &decoded); err != nil {
			continue
		}
		if !matchesFilter(decoded, filter) {
			continue
		}
		out = append(out, decoded)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func matchesFilter(row, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := row[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
