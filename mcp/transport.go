package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/deskhive/deskhive/types"
)

// Transport moves JSON-RPC messages between client and tool server.
type Transport interface {
	// Send writes a message. Safe for concurrent callers.
	Send(ctx context.Context, msg *Message) error
	// Receive blocks until the next message arrives.
	Receive(ctx context.Context) (*Message, error)
	// Close shuts the transport down.
	Close() error
}

// WSTransportConfig configures the WebSocket transport.
type WSTransportConfig struct {
	// AuthToken, when non-empty, is sent as a bearer Authorization
	// header on the dial request.
	AuthToken string

	// HeartbeatInterval between protocol-level pings. Zero disables
	// the heartbeat.
	HeartbeatInterval time.Duration

	// DialTimeout bounds the WebSocket handshake. Defaults to 10s.
	DialTimeout time.Duration

	// Subprotocols offered during the handshake. Defaults to ["mcp"].
	Subprotocols []string
}

// DefaultWSTransportConfig returns the default transport configuration.
func DefaultWSTransportConfig() WSTransportConfig {
	return WSTransportConfig{
		HeartbeatInterval: 30 * time.Second,
		DialTimeout:       10 * time.Second,
		Subprotocols:      []string{"mcp"},
	}
}

// WSTransport is a WebSocket transport for JSON-RPC messages. Writes
// are serialized; pongs are consumed inside Receive.
type WSTransport struct {
	url    string
	config WSTransportConfig
	logger *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}
}

// NewWSTransport creates a WebSocket transport. Call Connect before use.
func NewWSTransport(url string, config WSTransportConfig, logger *zap.Logger) *WSTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	if len(config.Subprotocols) == 0 {
		config.Subprotocols = []string{"mcp"}
	}
	return &WSTransport{
		url:    url,
		config: config,
		logger: logger.With(zap.String("component", "ws_transport")),
		done:   make(chan struct{}),
	}
}

// Connect dials the tool server. Credentials travel in the handshake
// headers, never in the URL.
func (t *WSTransport) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.config.DialTimeout)
	defer cancel()

	header := http.Header{}
	if t.config.AuthToken != "" {
		header.Set("Authorization", "Bearer "+t.config.AuthToken)
	}

	conn, resp, err := websocket.Dial(dialCtx, t.url, &websocket.DialOptions{
		Subprotocols: t.config.Subprotocols,
		HTTPHeader:   header,
	})
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return types.NewError(types.ErrUnauthorized, "tool server rejected credentials").
					WithHTTPStatus(resp.StatusCode).WithCause(err)
			case http.StatusForbidden:
				return types.NewError(types.ErrForbidden, "tool server refused access").
					WithHTTPStatus(resp.StatusCode).WithCause(err)
			}
		}
		return fmt.Errorf("websocket dial %s: %w", t.url, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if t.config.HeartbeatInterval > 0 {
		go t.heartbeat()
	}
	return nil
}

// Send writes a JSON-RPC message as a text frame.
func (t *WSTransport) Send(ctx context.Context, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	t.mu.Lock()
	conn, closed := t.conn, t.closed
	t.mu.Unlock()

	if closed {
		return fmt.Errorf("websocket: transport is closed")
	}
	if conn == nil {
		return fmt.Errorf("websocket: not connected")
	}
	return conn.Write(ctx, websocket.MessageText, body)
}

// Receive reads the next JSON-RPC message, consuming pong frames.
func (t *WSTransport) Receive(ctx context.Context) (*Message, error) {
	for {
		t.mu.Lock()
		conn, closed := t.conn, t.closed
		t.mu.Unlock()

		if closed {
			return nil, fmt.Errorf("websocket: transport is closed")
		}
		if conn == nil {
			return nil, fmt.Errorf("websocket: not connected")
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.done:
				return nil, fmt.Errorf("websocket: transport is closed")
			default:
				return nil, err
			}
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		if msg.Method == "pong" {
			continue
		}
		return &msg, nil
	}
}

// Close shuts down the heartbeat and the connection.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}

func (t *WSTransport) heartbeat() {
	ticker := time.NewTicker(t.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), t.config.DialTimeout)
			err := t.Send(ctx, &Message{JSONRPC: "2.0", Method: "ping"})
			cancel()
			if err != nil {
				t.logger.Warn("heartbeat ping failed", zap.Error(err))
				return
			}
		}
	}
}
