package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/veridianlabs/storycore/internal/agent"
)

func TestToolProxy_ExecuteDelegatesToClient(t *testing.T) {
	tool := &MCPTool{Name: "search", Description: "search the web", InputSchema: json.RawMessage(`{"type":"object"}`)}
	client, _ := newFakeClient(t, []*MCPTool{tool})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	proxy := NewToolProxy(client, "srv", tool)
	if proxy.Name() != "mcp:srv:search" {
		t.Fatalf("unexpected proxy name: %q", proxy.Name())
	}

	out, err := proxy.Execute(context.Background(), json.RawMessage(`{"q":"go"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if decoded["text"] != "ok" {
		t.Fatalf("unexpected output: %+v", decoded)
	}
}

func TestRegisterTools_AddsProxiesToRegistry(t *testing.T) {
	tool := &MCPTool{Name: "search", Description: "search the web", InputSchema: json.RawMessage(`{"type":"object"}`)}
	client, _ := newFakeClient(t, []*MCPTool{tool})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	registry := agent.NewToolRegistry()
	if err := RegisterTools(context.Background(), registry, client, "srv"); err != nil {
		t.Fatalf("register tools: %v", err)
	}

	got, ok := registry.Get("mcp:srv:search")
	if !ok {
		t.Fatal("expected proxied tool to be registered")
	}
	if got.Description() != "search the web" {
		t.Fatalf("unexpected description: %q", got.Description())
	}
}
