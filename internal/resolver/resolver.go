// Package resolver expands Table, BotCommand, Narrative, and textual
// placeholder references into literal text before an act is dispatched to a
// driver.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/veridianlabs/storycore/internal/models"
	"github.com/veridianlabs/storycore/internal/narrative"
)

// TableLookup answers a Table reference: up to limit rows matching filter.
type TableLookup interface {
	QueryTable(ctx context.Context, name string, filter map[string]any, limit int) ([]map[string]any, error)
}

// BotDispatcher answers a BotCommand reference.
type BotDispatcher interface {
	DispatchCommand(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// NarrativeRunner executes a referenced narrative and returns its final
// response text, used to resolve Input::Narrative. The runner receives only
// the narrative name; the resolver keeps its own visited-set and reports a
// cycle before calling the runner for a name already being resolved.
type NarrativeRunner interface {
	RunNarrative(ctx context.Context, name string) (string, error)
}

// Placeholder grammar is fixed to exactly these two forms: no nested braces,
// no expressions.
var (
	actPlaceholder   = regexp.MustCompile(`\{\{act\.([a-zA-Z0-9_\-]+)\.response\}\}`)
	statePlaceholder = regexp.MustCompile(`\{\{state\.([a-zA-Z0-9_\-]+)\}\}`)
)

// Resolver expands references for one narrative execution. It is not safe
// for concurrent use across unrelated executions sharing state; construct
// one per NarrativeExecution.
type Resolver struct {
	Tables     TableLookup
	Bots       BotDispatcher
	Narratives NarrativeRunner

	// State holds {{state.<var>}} substitution values, e.g. carousel
	// iteration context or caller-supplied variables.
	State map[string]string

	visited map[string]struct{}
}

func New() *Resolver {
	return &Resolver{visited: make(map[string]struct{})}
}

// ActResponses is the map of prior act responses available to
// {{act.<key>.response}} placeholders, keyed by act name.
type ActResponses map[string]string

// Resolve expands every reference and placeholder in an act's Inputs,
// producing the literal GenerateRequest content the driver sees. priorActs
// must contain only acts that precede the current one in toc order; the
// caller enforces that ordering invariant before calling Resolve.
func (r *Resolver) Resolve(ctx context.Context, inputs []models.Input, priorActs ActResponses) ([]models.Input, error) {
	out := make([]models.Input, 0, len(inputs))
	for _, in := range inputs {
		resolved, err := r.resolveOne(ctx, in, priorActs)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func (r *Resolver) resolveOne(ctx context.Context, in models.Input, priorActs ActResponses) (models.Input, error) {
	switch in.Kind {
	case models.InputText:
		text, err := r.resolvePlaceholders(in.Text, priorActs)
		if err != nil {
			return models.Input{}, err
		}
		return models.TextInput(text), nil

	case models.InputTable:
		if r.Tables == nil {
			return models.Input{}, narrative.ErrTableUnavailable
		}
		rows, err := r.Tables.QueryTable(ctx, in.TableName, in.TableFilter, in.TableLimit)
		if err != nil {
			return models.Input{}, fmt.Errorf("resolve table %q: %w", in.TableName, err)
		}
		payload, err := json.Marshal(rows)
		if err != nil {
			return models.Input{}, err
		}
		return models.TextInput(string(payload)), nil

	case models.InputBotCommand:
		if r.Bots == nil {
			return models.Input{}, narrative.ErrBotUnavailable
		}
		result, err := r.Bots.DispatchCommand(ctx, in.CommandName, in.CommandArgs)
		if err != nil {
			return models.Input{}, fmt.Errorf("dispatch bot command %q: %w", in.CommandName, err)
		}
		return models.TextInput(string(result)), nil

	case models.InputNarrative:
		if r.Narratives == nil {
			return models.Input{}, narrative.ErrNarrativeUnavailable
		}
		if _, seen := r.visited[in.NarrativeName]; seen {
			return models.Input{}, narrative.NewCycleError(r.chainFor(in.NarrativeName))
		}
		r.visited[in.NarrativeName] = struct{}{}
		defer delete(r.visited, in.NarrativeName)
		text, err := r.Narratives.RunNarrative(ctx, in.NarrativeName)
		if err != nil {
			return models.Input{}, fmt.Errorf("resolve narrative %q: %w", in.NarrativeName, err)
		}
		return models.TextInput(text), nil

	default:
		return in, nil
	}
}

func (r *Resolver) chainFor(name string) []string {
	chain := make([]string, 0, len(r.visited)+1)
	for v := range r.visited {
		chain = append(chain, v)
	}
	chain = append(chain, name)
	return chain
}

// resolvePlaceholders expands {{act.<key>.response}} and {{state.<var>}}
// occurrences. An act placeholder naming a key absent from priorActs (a
// forward or unknown reference) is a hard error; an unknown state variable
// expands to the empty string, matching how an unset template variable
// behaves elsewhere in the pipeline.
func (r *Resolver) resolvePlaceholders(text string, priorActs ActResponses) (string, error) {
	var resolveErr error
	out := actPlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		key := actPlaceholder.FindStringSubmatch(match)[1]
		resp, ok := priorActs[key]
		if !ok {
			resolveErr = narrative.NewForwardRefError(key)
			return match
		}
		return resp
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	out = statePlaceholder.ReplaceAllStringFunc(out, func(match string) string {
		key := statePlaceholder.FindStringSubmatch(match)[1]
		return r.State[key]
	})
	return out, nil
}

// HasPlaceholders reports whether text contains any recognized placeholder,
// used by callers deciding whether resolution work is needed at all.
func HasPlaceholders(text string) bool {
	return strings.Contains(text, "{{act.") || strings.Contains(text, "{{state.")
}
