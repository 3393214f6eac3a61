package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/veridianlabs/storycore/internal/agent"
)

// ToolProxy adapts one MCP server tool into the agent package's Tool
// interface, so a registry can hold in-process tools and MCP-proxied tools
// side by side. Proxied names are prefixed with "mcp:" plus the server ID
// to avoid colliding with in-process tool names.
type ToolProxy struct {
	client   *Client
	serverID string
	tool     *MCPTool
}

func NewToolProxy(client *Client, serverID string, tool *MCPTool) *ToolProxy {
	return &ToolProxy{client: client, serverID: serverID, tool: tool}
}

func (p *ToolProxy) Name() string {
	return fmt.Sprintf("mcp:%s:%s", p.serverID, p.tool.Name)
}

func (p *ToolProxy) Description() string { return p.tool.Description }

func (p *ToolProxy) InputSchema() json.RawMessage { return p.tool.InputSchema }

func (p *ToolProxy) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	result, err := p.client.CallTool(ctx, p.tool.Name, args)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp: tool %s returned an error: %s", p.tool.Name, joinText(result.Content))
	}
	payload, err := json.Marshal(map[string]string{"text": joinText(result.Content)})
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal tool result: %w", err)
	}
	return payload, nil
}

func joinText(content []ToolResultContent) string {
	var b strings.Builder
	for _, c := range content {
		b.WriteString(c.Text)
	}
	return b.String()
}

// RegisterTools refreshes client's tool list and registers a ToolProxy for
// each one into registry.
func RegisterTools(ctx context.Context, registry *agent.ToolRegistry, client *Client, serverID string) error {
	if err := client.RefreshTools(ctx); err != nil {
		return err
	}
	for _, tool := range client.Tools() {
		registry.Register(NewToolProxy(client, serverID, tool))
	}
	return nil
}
