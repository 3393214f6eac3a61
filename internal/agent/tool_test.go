package agent

import (
	"context"
	"encoding/json"
	"testing"
)

type echoTool struct{}

func (echoTool) Name() string                  { return "echo" }
func (echoTool) Description() string           { return "echoes its input" }
func (echoTool) InputSchema() json.RawMessage  { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return args, nil
}

func TestToolRegistry_RegisterAndGet(t *testing.T) {
	r := NewToolRegistry()
	r.Register(echoTool{})

	tool, ok := r.Get("echo")
	if !ok {
		t.Fatal("expected echo tool to be registered")
	}
	if tool.Name() != "echo" {
		t.Fatalf("unexpected tool name: %q", tool.Name())
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 registered tool, got %d", r.Len())
	}
}

func TestToolRegistry_AsToolSchemasReflectsRegisteredTools(t *testing.T) {
	r := NewToolRegistry()
	r.Register(echoTool{})

	schemas := r.AsToolSchemas()
	if len(schemas) != 1 {
		t.Fatalf("expected 1 schema, got %d", len(schemas))
	}
	if schemas[0].Name != "echo" || schemas[0].Description == "" {
		t.Fatalf("unexpected schema: %+v", schemas[0])
	}
}

func TestToolRegistry_GetUnknownToolFails(t *testing.T) {
	r := NewToolRegistry()
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected missing tool lookup to fail")
	}
}
