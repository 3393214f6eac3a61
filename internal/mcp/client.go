package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Client is an MCP client bound to a single server, caching the tools it
// advertises after Connect.
type Client struct {
	config    *ServerConfig
	transport Transport

	mu         sync.RWMutex
	tools      []*MCPTool
	serverInfo ServerInfo
}

func NewClient(cfg *ServerConfig) *Client {
	return &Client{config: cfg, transport: NewHTTPTransport(cfg)}
}

// newClientWithTransport is the test seam, letting tests substitute a fake
// Transport without a live HTTP server.
func newClientWithTransport(cfg *ServerConfig, transport Transport) *Client {
	return &Client{config: cfg, transport: transport}
}

// Connect initializes the session and refreshes the tool list.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("mcp: connect: %w", err)
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "storycore", "version": "1.0.0"},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("mcp: initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.transport.Close()
		return fmt.Errorf("mcp: parse initialize result: %w", err)
	}
	c.mu.Lock()
	c.serverInfo = initResult.ServerInfo
	c.mu.Unlock()

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("mcp: initialized notification: %w", err)
	}

	return c.RefreshTools(ctx)
}

func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// RefreshTools re-lists the server's tools and caches them.
func (c *Client) RefreshTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("mcp: tools/list: %w", err)
	}
	var resp ListToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("mcp: parse tools/list: %w", err)
	}
	c.mu.Lock()
	c.tools = resp.Tools
	c.mu.Unlock()
	return nil
}

// Tools returns the cached tool list from the last RefreshTools.
func (c *Client) Tools() []*MCPTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*MCPTool, len(c.tools))
	copy(out, c.tools)
	return out
}

// CallTool invokes name on the server with the given JSON arguments.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	result, err := c.transport.Call(ctx, "tools/call", CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("mcp: tools/call %s: %w", name, err)
	}
	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("mcp: parse tools/call result: %w", err)
	}
	return &callResult, nil
}
