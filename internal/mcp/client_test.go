package mcp

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeTransport struct {
	connected bool
	calls     []string
	onCall    func(method string, params any) (json.RawMessage, error)
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.connected = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.connected = false
	return nil
}

func (f *fakeTransport) Connected() bool { return f.connected }

func (f *fakeTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	f.calls = append(f.calls, method)
	return f.onCall(method, params)
}

func (f *fakeTransport) Notify(ctx context.Context, method string, params any) error {
	f.calls = append(f.calls, method)
	return nil
}

func newFakeClient(t *testing.T, tools []*MCPTool) (*Client, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{
		onCall: func(method string, params any) (json.RawMessage, error) {
			switch method {
			case "initialize":
				return json.Marshal(InitializeResult{
					ProtocolVersion: "2024-11-05",
					ServerInfo:      ServerInfo{Name: "test-server", Version: "1.0"},
				})
			case "tools/list":
				return json.Marshal(ListToolsResult{Tools: tools})
			case "tools/call":
				return json.Marshal(ToolCallResult{
					Content: []ToolResultContent{{Type: "text", Text: "ok"}},
				})
			default:
				return json.RawMessage(`{}`), nil
			}
		},
	}
	return newClientWithTransport(&ServerConfig{ID: "srv", URL: "http://example.invalid"}, transport), transport
}

func TestClient_ConnectRefreshesTools(t *testing.T) {
	tool := &MCPTool{Name: "search", Description: "search the web", InputSchema: json.RawMessage(`{"type":"object"}`)}
	client, transport := newFakeClient(t, []*MCPTool{tool})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !transport.connected {
		t.Fatal("expected transport to be connected")
	}
	if client.ServerInfo().Name != "test-server" {
		t.Fatalf("unexpected server info: %+v", client.ServerInfo())
	}
	tools := client.Tools()
	if len(tools) != 1 || tools[0].Name != "search" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestClient_CallToolReturnsResult(t *testing.T) {
	client, _ := newFakeClient(t, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	result, err := client.CallTool(context.Background(), "search", json.RawMessage(`{"q":"go"}`))
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if result.IsError || len(result.Content) != 1 || result.Content[0].Text != "ok" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestServerConfig_ValidateRejectsMissingURL(t *testing.T) {
	cfg := &ServerConfig{ID: "srv"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing URL to fail validation")
	}
}
