// Package agent implements the MCP-style agent loop (C11): a tool registry,
// an approval manager, a bounded conversation context, and the loop state
// machine that drives a driver through repeated tool-use turns.
package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/veridianlabs/storycore/internal/models"
)

// Tool is implemented by anything the loop can invoke on the model's behalf.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// ToolRegistry holds the tools available to one agent, keyed by name.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry, replacing any existing tool of the
// same name.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// AsToolSchemas returns every registered tool's schema, in the shape a
// GenerateRequest expects.
func (r *ToolRegistry) AsToolSchemas() []models.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]models.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, models.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return schemas
}

func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
