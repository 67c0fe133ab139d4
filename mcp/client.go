package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/deskhive/deskhive/types"
)

// Client talks JSON-RPC to one agent's tool server. A client is scoped
// to an explicit set of tool names; calls outside that set are refused
// locally without touching the wire.
type Client struct {
	transport Transport
	allowed   map[string]struct{}

	nextID    int64
	pending   map[int64]chan *Message
	pendingMu sync.Mutex

	serverInfo *ServerInfo
	infoMu     sync.RWMutex

	loopOnce sync.Once
	loopDone chan struct{}

	logger *zap.Logger
}

// NewClient creates a client over an already-connected transport,
// scoped to exactly toolNames.
func NewClient(transport Transport, toolNames []string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(toolNames))
	for _, name := range toolNames {
		allowed[name] = struct{}{}
	}
	return &Client{
		transport: transport,
		allowed:   allowed,
		pending:   make(map[int64]chan *Message),
		loopDone:  make(chan struct{}),
		logger:    logger.With(zap.String("component", "mcp_client")),
	}
}

// Initialize performs the protocol handshake and starts the read loop.
func (c *Client) Initialize(ctx context.Context) error {
	c.loopOnce.Do(func() { go c.readLoop() })

	result, err := c.sendRequest(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
	})
	if err != nil {
		return fmt.Errorf("initialize handshake: %w", err)
	}

	var info ServerInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return fmt.Errorf("parse server info: %w", err)
	}

	c.infoMu.Lock()
	c.serverInfo = &info
	c.infoMu.Unlock()

	c.logger.Debug("tool server handshake complete",
		zap.String("server", info.Name),
		zap.String("version", info.Version),
	)
	return nil
}

// ServerInfo returns the handshake result, or nil before Initialize.
func (c *Client) ServerInfo() *ServerInfo {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	return c.serverInfo
}

// AllowedTools returns the sorted-insensitive set of tool names this
// client may call.
func (c *Client) AllowedTools() []string {
	out := make([]string, 0, len(c.allowed))
	for name := range c.allowed {
		out = append(out, name)
	}
	return out
}

// ListTools fetches the server's tool catalog filtered to this
// client's scope.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := c.sendRequest(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var all struct {
		Tools []ToolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(result, &all); err != nil {
		return nil, fmt.Errorf("parse tool list: %w", err)
	}

	scoped := make([]ToolDefinition, 0, len(all.Tools))
	for _, tool := range all.Tools {
		if _, ok := c.allowed[tool.Name]; ok {
			scoped = append(scoped, tool)
		}
	}
	return scoped, nil
}

// CallTool invokes a tool by name. Tools outside the client's scope
// are rejected without a network round trip.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if _, ok := c.allowed[name]; !ok {
		return nil, types.NewError(types.ErrToolNotInScope,
			fmt.Sprintf("tool %q is not in this client's scope", name))
	}

	result, err := c.sendRequest(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	var toolResult ToolResult
	if err := json.Unmarshal(result, &toolResult); err != nil {
		return nil, fmt.Errorf("parse tool result: %w", err)
	}
	return &toolResult, nil
}

// Close stops the read loop and closes the transport.
func (c *Client) Close() error {
	err := c.transport.Close()
	// If the read loop never started there is nothing to wait for.
	c.loopOnce.Do(func() { close(c.loopDone) })
	<-c.loopDone

	// Unblock any in-flight callers.
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	return err
}

func (c *Client) sendRequest(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	c.loopOnce.Do(func() { go c.readLoop() })

	id := atomic.AddInt64(&c.nextID, 1)
	respChan := make(chan *Message, 1)

	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.transport.Send(ctx, NewRequest(id, method, params)); err != nil {
		return nil, types.NewError(types.ErrTransportError, "send request failed").WithCause(err)
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrUpstreamTimeout,
				fmt.Sprintf("timed out awaiting %s response", method)).WithCause(ctx.Err())
		}
		return nil, ctx.Err()
	case resp, ok := <-respChan:
		if !ok {
			return nil, types.NewError(types.ErrTransportError, "connection closed while awaiting response")
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		raw, err := json.Marshal(resp.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		return raw, nil
	}
}

// readLoop dispatches responses to their pending callers. It exits when
// the transport errors out, which happens on Close.
func (c *Client) readLoop() {
	defer close(c.loopDone)

	for {
		msg, err := c.transport.Receive(context.Background())
		if err != nil {
			return
		}
		if msg.ID == nil {
			// Server-initiated notification. Nothing to correlate.
			continue
		}

		id, ok := messageID(msg.ID)
		if !ok {
			c.logger.Warn("response with uncorrelatable id", zap.Any("id", msg.ID))
			continue
		}

		c.pendingMu.Lock()
		ch, exists := c.pending[id]
		c.pendingMu.Unlock()
		if exists {
			ch <- msg
		}
	}
}

// messageID normalizes the wire representation of a request id. JSON
// decoding turns numbers into float64.
func messageID(v any) (int64, bool) {
	switch id := v.(type) {
	case float64:
		return int64(id), true
	case int64:
		return id, true
	case int:
		return int64(id), true
	default:
		return 0, false
	}
}
