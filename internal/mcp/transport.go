package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Transport sends and receives JSON-RPC envelopes to and from an MCP
// server. It mirrors the driver corpus's own client/transport split so the
// agent package can proxy tools without knowing the wire details.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Connected() bool
}

// HTTPTransport implements Transport over a single HTTP endpoint, POSTing
// one JSON-RPC envelope per call.
type HTTPTransport struct {
	config    *ServerConfig
	client    *http.Client
	connected atomic.Bool
}

func NewHTTPTransport(cfg *ServerConfig) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("mcp: url is required")
	}
	t.connected.Store(true)
	return nil
}

func (t *HTTPTransport) Close() error {
	t.connected.Store(false)
	return nil
}

func (t *HTTPTransport) Connected() bool { return t.connected.Load() }

func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("mcp: not connected")
	}

	req := JSONRPCRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: method}
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("mcp: marshal params: %w", err)
		}
		req.Params = payload
	}

	resp, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("mcp: http %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("mcp: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("mcp: not connected")
	}

	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("mcp: marshal params: %w", err)
		}
		notif.Params = payload
	}

	resp, err := t.post(ctx, notif)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, envelope any) (*http.Response, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal envelope: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mcp: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mcp: http request: %w", err)
	}
	return resp, nil
}
