// Package toolclient builds and caches per-principal clients for agent
// tool servers.
package toolclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/deskhive/deskhive/auth"
	"github.com/deskhive/deskhive/internal/metrics"
	"github.com/deskhive/deskhive/mcp"
	"github.com/deskhive/deskhive/types"
)

// ToolClient is what callers get back from the factory: a tool-scoped
// handle onto one agent's tool server.
type ToolClient interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error)
	ListTools(ctx context.Context) ([]mcp.ToolDefinition, error)
	Close() error
}

// DialFunc establishes a connected transport to an agent's tool server.
// token is empty for unauthenticated connections.
type DialFunc func(ctx context.Context, serverURL, token string) (mcp.Transport, error)

// FactoryConfig configures client construction and caching.
type FactoryConfig struct {
	// ServerURL resolves an agent ID to its tool-server endpoint.
	ServerURL func(agentID string) string

	// CacheTTL bounds how long a built client is reused. Defaults to
	// 10 minutes.
	CacheTTL time.Duration

	// Transport is the base WebSocket configuration; the auth token is
	// filled in per connection.
	Transport mcp.WSTransportConfig
}

// DefaultFactoryConfig returns the default factory configuration with
// agents addressed under baseURL.
func DefaultFactoryConfig(baseURL string) FactoryConfig {
	return FactoryConfig{
		ServerURL: func(agentID string) string {
			return strings.TrimRight(baseURL, "/") + "/agents/" + agentID + "/mcp"
		},
		CacheTTL:  10 * time.Minute,
		Transport: mcp.DefaultWSTransportConfig(),
	}
}

type cacheEntry struct {
	client    ToolClient
	principal *auth.Principal
	expiresAt time.Time
}

// Factory builds tool clients and caches them per principal, agent and
// tool set. Concurrent requests for the same key share one
// construction.
type Factory struct {
	config  FactoryConfig
	metrics *metrics.Collector
	logger  *zap.Logger

	dial DialFunc
	now  func() time.Time

	group singleflight.Group

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

// NewFactory creates a factory. metrics may be nil; dial may be nil to
// use the default WebSocket dialer.
func NewFactory(config FactoryConfig, collector *metrics.Collector, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 10 * time.Minute
	}
	if config.ServerURL == nil {
		config.ServerURL = func(agentID string) string { return "ws://localhost:8801/agents/" + agentID + "/mcp" }
	}
	f := &Factory{
		config:  config,
		metrics: collector,
		logger:  logger.With(zap.String("component", "toolclient_factory")),
		now:     time.Now,
		cache:   make(map[string]*cacheEntry),
	}
	f.dial = f.dialWebSocket
	return f
}

// NewFactoryWithDialer is NewFactory with a custom transport dialer,
// for callers that do not speak WebSocket (or tests).
func NewFactoryWithDialer(config FactoryConfig, dial DialFunc, collector *metrics.Collector, logger *zap.Logger) *Factory {
	f := NewFactory(config, collector, logger)
	if dial != nil {
		f.dial = dial
	}
	return f
}

// GetClient returns a tool client for the principal, agent and tool
// set, building one if no live cached client exists.
//
// A nil principal or one without a usable token yields an
// unauthenticated client; so does an authenticated connection that
// fails for reasons other than a 401/403 credential rejection. An
// empty tool set yields a null client that refuses every call without
// opening a connection.
func (f *Factory) GetClient(ctx context.Context, principal *auth.Principal, agentID string, toolNames []string) (ToolClient, error) {
	if len(toolNames) == 0 {
		return nullClient{}, nil
	}

	key := cacheKey(principal, agentID, toolNames)

	if client := f.lookup(key); client != nil {
		f.metrics.RecordCacheHit()
		return client, nil
	}
	f.metrics.RecordCacheMiss()

	v, err, _ := f.group.Do(key, func() (any, error) {
		// Another waiter may have populated the cache while we queued.
		if client := f.lookup(key); client != nil {
			return client, nil
		}

		client, err := f.build(ctx, principal, agentID, toolNames)
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		f.cache[key] = &cacheEntry{
			client:    client,
			principal: principal,
			expiresAt: f.now().Add(f.config.CacheTTL),
		}
		f.mu.Unlock()
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(ToolClient), nil
}

// Invalidate drops the cached client for the given key, closing it.
// Used after a token refresh so the next call rebuilds with fresh
// credentials.
func (f *Factory) Invalidate(principal *auth.Principal, agentID string, toolNames []string) {
	key := cacheKey(principal, agentID, toolNames)

	f.mu.Lock()
	entry, ok := f.cache[key]
	if ok {
		delete(f.cache, key)
	}
	f.mu.Unlock()

	if ok {
		_ = entry.client.Close()
		f.metrics.RecordCacheEviction()
	}
}

// Close evicts and closes every cached client.
func (f *Factory) Close() error {
	f.mu.Lock()
	entries := f.cache
	f.cache = make(map[string]*cacheEntry)
	f.mu.Unlock()

	var firstErr error
	for _, entry := range entries {
		if err := entry.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// lookup returns a cached live client, evicting stale entries.
func (f *Factory) lookup(key string) ToolClient {
	f.mu.Lock()
	entry, ok := f.cache[key]
	if !ok {
		f.mu.Unlock()
		return nil
	}

	stale := !f.now().Before(entry.expiresAt) ||
		(entry.principal != nil && entry.principal.IsTokenExpired())
	if stale {
		delete(f.cache, key)
		f.mu.Unlock()
		_ = entry.client.Close()
		f.metrics.RecordCacheEviction()
		f.logger.Debug("evicted stale tool client", zap.String("key", key))
		return nil
	}
	f.mu.Unlock()

	return entry.client
}

func (f *Factory) build(ctx context.Context, principal *auth.Principal, agentID string, toolNames []string) (ToolClient, error) {
	token := ""
	if principal != nil {
		if principal.IsTokenValid() {
			token = principal.GetAuthToken()
		}
		if token == "" {
			f.logger.Warn("no usable credentials, falling back to unauthenticated tool client",
				zap.String("agent_id", agentID),
				zap.String("user_id", principal.UserID),
			)
		}
	} else {
		f.logger.Warn("no principal, building unauthenticated tool client",
			zap.String("agent_id", agentID),
		)
	}

	client, err := f.connect(ctx, agentID, toolNames, token)
	if err == nil || token == "" {
		return client, err
	}

	// Credential rejections are the refresh layer's signal; do not mask
	// them with a degraded client.
	if status := types.HTTPStatusOf(err); status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, err
	}

	f.logger.Warn("authenticated tool client construction failed, retrying unauthenticated",
		zap.String("agent_id", agentID),
		zap.Error(err),
	)
	return f.connect(ctx, agentID, toolNames, "")
}

// connect dials the agent's tool server and completes the handshake.
func (f *Factory) connect(ctx context.Context, agentID string, toolNames []string, token string) (ToolClient, error) {
	transport, err := f.dial(ctx, f.config.ServerURL(agentID), token)
	if err != nil {
		return nil, fmt.Errorf("connect tool server for agent %s: %w", agentID, err)
	}

	client := mcp.NewClient(transport, toolNames, f.logger)
	if err := client.Initialize(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("initialize tool client for agent %s: %w", agentID, err)
	}
	return client, nil
}

func (f *Factory) dialWebSocket(ctx context.Context, serverURL, token string) (mcp.Transport, error) {
	cfg := f.config.Transport
	cfg.AuthToken = token
	transport := mcp.NewWSTransport(serverURL, cfg, f.logger)
	if err := transport.Connect(ctx); err != nil {
		return nil, err
	}
	return transport, nil
}

// cacheKey derives the cache key from the principal's credential hash,
// the agent and the exact tool set. Tool order does not matter.
func cacheKey(principal *auth.Principal, agentID string, toolNames []string) string {
	identity := "anonymous"
	if principal != nil {
		identity = principal.GetCacheHash()
	}

	tools := make([]string, len(toolNames))
	copy(tools, toolNames)
	sort.Strings(tools)

	sum := sha256.Sum256([]byte(strings.Join(tools, ",")))
	return identity + "|" + agentID + "|" + hex.EncodeToString(sum[:8])
}
