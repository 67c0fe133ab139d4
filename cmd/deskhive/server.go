package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/deskhive/deskhive/auth"
	"github.com/deskhive/deskhive/config"
	"github.com/deskhive/deskhive/history"
	"github.com/deskhive/deskhive/internal/metrics"
	"github.com/deskhive/deskhive/internal/server"
	"github.com/deskhive/deskhive/mcp"
	"github.com/deskhive/deskhive/service"
	"github.com/deskhive/deskhive/store"
	"github.com/deskhive/deskhive/tokenizer"
	"github.com/deskhive/deskhive/toolclient"
)

// Server wires storage, the memory pipeline and the tool-access
// pipeline behind the HTTP API.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	collector  *metrics.Collector
	msgStore   store.MessageStore
	memory     *service.Memory
	toolAccess *service.ToolAccess
	factory    *toolclient.Factory
	decoder    *auth.JWTDecoder

	rateLimiterCancel context.CancelFunc
}

// NewServer builds the full dependency graph from configuration.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		collector: metrics.NewCollector("deskhive", nil, logger),
	}

	msgStore, err := openMessageStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open message store: %w", err)
	}
	s.msgStore = msgStore

	// Memory pipeline: tokenizer -> counter -> provider -> facade.
	tok := tokenizer.GetTokenizerOrEstimator(cfg.Memory.Model)
	counter := tokenizer.NewCounter(tok, logger)
	provider := history.NewProvider(msgStore, counter, history.ProviderConfig{
		MaxLoadMessages:  cfg.Memory.MaxLoadMessages,
		SmallThreadLimit: cfg.Memory.SmallThreadLimit,
	}, s.collector, logger)
	s.memory = service.NewMemory(provider, history.NewConverter(), logger)

	// Tool-access pipeline: decoder, refresh manager, client factory.
	signingKey := []byte(cfg.Auth.JWTSigningKey)
	s.decoder = auth.NewJWTDecoder(signingKey, "", "")

	var refresh *auth.RefreshManager
	if cfg.Auth.IdentityURL != "" {
		idp := auth.NewHTTPIdentityProvider(cfg.Auth.IdentityURL, logger)
		refreshCfg := auth.DefaultRefreshConfig()
		refreshCfg.Lookahead = cfg.Auth.RefreshLookahead
		refreshCfg.MaxRetries = cfg.Auth.MaxRetries
		refreshCfg.BaseDelay = cfg.Auth.BaseDelay
		refreshCfg.MaxDelay = cfg.Auth.MaxDelay
		refreshCfg.OpaqueExtension = cfg.Auth.OpaqueExtension
		refreshCfg.LocalMintTTL = cfg.Auth.LocalMintTTL
		refresh = auth.NewRefreshManager(idp, refreshCfg, signingKey, logger)
	} else {
		logger.Info("identity provider not configured, token refresh disabled")
	}

	transportCfg := mcp.DefaultWSTransportConfig()
	if cfg.MCP.HeartbeatInterval > 0 {
		transportCfg.HeartbeatInterval = cfg.MCP.HeartbeatInterval
	}
	factoryCfg := toolclient.DefaultFactoryConfig(cfg.MCP.ServerURL)
	factoryCfg.Transport = transportCfg
	s.factory = toolclient.NewFactory(factoryCfg, s.collector, logger)

	s.toolAccess = service.NewToolAccess(refresh, s.factory, s.collector, logger)
	return s, nil
}

// Start launches the API and metrics servers.
func (s *Server) Start() error {
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

func (s *Server) startHTTPServer() error {
	handlers := NewAPIHandlers(s.msgStore, s.memory, s.toolAccess, s.cfg.MCP.CallTimeout, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /version", handlers.HandleVersion(Version, BuildTime, GitCommit))
	mux.HandleFunc("GET /api/v1/threads/{id}", handlers.HandleGetThread)
	mux.HandleFunc("GET /api/v1/threads/{id}/history", handlers.HandleGetHistory)
	mux.HandleFunc("POST /api/v1/threads/{id}/messages", handlers.HandlePostMessage)
	mux.HandleFunc("POST /api/v1/agents/{agent}/tools/{tool}", handlers.HandleCallTool)

	skipAuthPaths := []string{"/health", "/version"}
	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		Metrics(s.collector),
		RateLimiter(rateLimiterCtx, 50, 100, s.logger),
		BearerAuth(s.decoder, skipAuthPaths, s.logger),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.metricsManager.Start()
}

// WaitForShutdown blocks until a signal arrives, then shuts down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown closes servers, cached tool clients and the store.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if s.factory != nil {
		if err := s.factory.Close(); err != nil {
			s.logger.Error("Tool client shutdown error", zap.Error(err))
		}
	}
	if s.msgStore != nil {
		if err := s.msgStore.Close(); err != nil {
			s.logger.Error("Store shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

// openMessageStore picks redis when enabled, the relational store
// otherwise.
func openMessageStore(cfg *config.Config, logger *zap.Logger) (store.MessageStore, error) {
	if cfg.Redis.Enabled {
		st, err := store.NewRedisMessageStore(cfg.Redis)
		if err != nil {
			return nil, err
		}
		logger.Info("Message store: redis", zap.String("addr", cfg.Redis.Addr))
		return st, nil
	}

	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Message store: database", zap.String("driver", cfg.Database.Driver))
	return st, nil
}
