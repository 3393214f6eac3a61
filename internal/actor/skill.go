// Package actor implements actors (C8): named configurations that walk a
// declared list of skills against a knowledge/config/platform context,
// aggregating a run result of succeeded, failed, and skipped skills.
package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/veridianlabs/storycore/internal/classify"
)

// SkillOutput is the result data a skill execution produces.
type SkillOutput struct {
	SkillName string
	Data      json.RawMessage
}

// SkillContext carries everything a skill needs to execute: resolved
// knowledge tables, skill-local string configuration, and the social
// platform adapter it may post through.
type SkillContext struct {
	Knowledge map[string][]json.RawMessage
	Config    map[string]string
	Platform  SocialPlatform
}

// SkillInfo describes one registered skill for introspection.
type SkillInfo struct {
	Name        string
	Description string
}

// Skill is one reusable actor capability.
type Skill interface {
	Name() string
	Description() string
	Execute(ctx context.Context, sctx *SkillContext) (SkillOutput, error)
}

// ErrSkillNotFound is returned by Registry.Execute for an unregistered name.
var ErrSkillNotFound = fmt.Errorf("skill not found")

// Registry holds named skills and dispatches execution by name.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewRegistry returns an empty skill registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

// Register adds or replaces a skill under its own Name().
func (r *Registry) Register(s Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[s.Name()] = s
}

// Get returns the skill registered under name, if any.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// Execute runs the named skill against sctx.
func (r *Registry) Execute(ctx context.Context, name string, sctx *SkillContext) (SkillOutput, error) {
	s, ok := r.Get(name)
	if !ok {
		return SkillOutput{}, classify.New(classify.KindToolNotFound, fmt.Sprintf("skill %q is not registered", name))
	}
	return s.Execute(ctx, sctx)
}

// List returns information about every registered skill.
func (r *Registry) List() []SkillInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SkillInfo, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, SkillInfo{Name: s.Name(), Description: s.Description()})
	}
	return out
}

// Len reports how many skills are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.skills)
}
