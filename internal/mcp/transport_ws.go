package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSTransport is a long-lived MCP transport over a single websocket
// connection, used for remote event-stream subscribers that need
// server-initiated requests and notifications without HTTP SSE's
// one-direction-per-request limitation (spec.md §6 event stream).
//
// Grounded on internal/gateway/ws_control_plane.go's framed-message idiom
// (request/response correlated by ID, separate notification/request
// delivery) adapted onto JSON-RPC envelopes and dialed outward the way
// cmd/agent_chat_client.go dials a remote websocket server.
type WSTransport struct {
	config *ServerConfig
	logger *slog.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[string]chan *JSONRPCResponse
	events    chan *JSONRPCNotification
	requests  chan *JSONRPCRequest
	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewWSTransport creates a new websocket transport for an MCP server.
func NewWSTransport(cfg *ServerConfig) *WSTransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &WSTransport{
		config:   cfg,
		logger:   slog.Default().With("mcp_server", cfg.ID, "transport", "ws"),
		dialer:   &websocket.Dialer{HandshakeTimeout: timeout},
		pending:  make(map[string]chan *JSONRPCResponse),
		events:   make(chan *JSONRPCNotification, 100),
		requests: make(chan *JSONRPCRequest, 100),
		stopChan: make(chan struct{}),
	}
}

// Connect dials the server's websocket URL and starts the read loop.
func (t *WSTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("URL is required for ws transport")
	}

	header := http.Header{}
	for k, v := range t.config.Headers {
		header.Set(k, v)
	}

	conn, _, err := t.dialer.DialContext(ctx, t.config.URL, header)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.connected.Store(true)
	t.logger.Info("ws transport connected", "url", t.config.URL)

	t.wg.Add(1)
	go t.readLoop()

	return nil
}

// Close terminates the connection and stops the read loop.
func (t *WSTransport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.stopChan)

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	t.wg.Wait()
	return nil
}

// Call sends a JSON-RPC request and waits for its correlated response.
func (t *WSTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	id := uuid.New().String()
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	respCh := make(chan *JSONRPCResponse, 1)
	t.mu.Lock()
	t.pending[id] = respCh
	conn := t.conn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	if err := t.writeJSON(req); err != nil {
		return nil, fmt.Errorf("ws write: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.stopChan:
		return nil, fmt.Errorf("transport closed")
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, fmt.Errorf("MCP error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

// Notify sends a notification with no response expected.
func (t *WSTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}
	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}
	return t.writeJSON(notif)
}

// Events returns the notification channel.
func (t *WSTransport) Events() <-chan *JSONRPCNotification {
	return t.events
}

// Requests returns the server-initiated request channel.
func (t *WSTransport) Requests() <-chan *JSONRPCRequest {
	return t.requests
}

// Respond answers a server-initiated request.
func (t *WSTransport) Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil && result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resp.Result = data
	}
	return t.writeJSON(resp)
}

// Connected reports whether the websocket connection is live.
func (t *WSTransport) Connected() bool {
	return t.connected.Load()
}

func (t *WSTransport) writeJSON(v any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return conn.WriteJSON(v)
}

// readLoop dispatches inbound frames to the pending-response map, the
// events channel, or the server-request channel depending on shape.
func (t *WSTransport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)

	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		var envelope struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      any             `json:"id,omitempty"`
			Method  string          `json:"method,omitempty"`
			Params  json.RawMessage `json:"params,omitempty"`
			Result  json.RawMessage `json:"result,omitempty"`
			Error   *JSONRPCError   `json:"error,omitempty"`
		}
		if err := conn.ReadJSON(&envelope); err != nil {
			select {
			case <-t.stopChan:
			default:
				t.logger.Debug("ws read error", "error", err)
			}
			return
		}

		switch {
		case envelope.Method != "" && envelope.ID != nil:
			select {
			case t.requests <- &JSONRPCRequest{JSONRPC: envelope.JSONRPC, ID: envelope.ID, Method: envelope.Method, Params: envelope.Params}:
			default:
				t.logger.Warn("request channel full, dropping")
			}
		case envelope.Method != "":
			select {
			case t.events <- &JSONRPCNotification{JSONRPC: envelope.JSONRPC, Method: envelope.Method, Params: envelope.Params}:
			default:
				t.logger.Warn("notification channel full, dropping")
			}
		case envelope.ID != nil:
			id := fmt.Sprintf("%v", envelope.ID)
			t.mu.Lock()
			ch, ok := t.pending[id]
			t.mu.Unlock()
			if ok {
				ch <- &JSONRPCResponse{JSONRPC: envelope.JSONRPC, ID: envelope.ID, Result: envelope.Result, Error: envelope.Error}
			}
		}
	}
}
