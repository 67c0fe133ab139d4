package service

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/deskhive/deskhive/auth"
	"github.com/deskhive/deskhive/internal/metrics"
	"github.com/deskhive/deskhive/toolclient"
	"github.com/deskhive/deskhive/types"
)

// ToolAccess is the facade that authorizes a principal for a tool set,
// keeps its token fresh, and hands out a connected tool client.
type ToolAccess struct {
	refresh *auth.RefreshManager
	factory *toolclient.Factory
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewToolAccess creates the tool access facade. refresh may be nil when
// no identity provider is configured.
func NewToolAccess(refresh *auth.RefreshManager, factory *toolclient.Factory, collector *metrics.Collector, logger *zap.Logger) *ToolAccess {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolAccess{
		refresh: refresh,
		factory: factory,
		metrics: collector,
		logger:  logger.With(zap.String("component", "tool_access")),
	}
}

// BuildToolClient authorizes the principal for every requested tool and
// returns a connected client scoped to exactly those tools. The
// returned principal carries any token refresh performed along the way;
// callers should keep using it.
//
// The principal's token is refreshed proactively before connecting.
// When the tool server rejects credentials with 401 or 403 during the
// handshake, a reactive refresh runs and the connection is retried
// once.
func (s *ToolAccess) BuildToolClient(ctx context.Context, principal *auth.Principal, agentID string, toolNames []string) (toolclient.ToolClient, *auth.Principal, error) {
	if principal == nil && len(toolNames) > 0 {
		return nil, nil, types.NewError(types.ErrUnauthorized, "tool access requires an authenticated principal")
	}

	// Proactive refresh keeps the handshake from racing token expiry.
	if principal != nil && s.refresh != nil && s.refresh.ShouldRefresh(principal) {
		refreshed, err := s.refresh.Refresh(ctx, principal)
		switch {
		case err != nil:
			s.metrics.RecordRefreshAttempt("proactive", "failure")
			s.logger.Warn("proactive token refresh failed",
				zap.String("user_id", principal.UserID),
				zap.Error(err),
			)
		case refreshed != nil:
			s.metrics.RecordRefreshAttempt("proactive", "success")
			principal = refreshed
		}
	}

	for _, tool := range toolNames {
		if !principal.CanAccessTool(tool) {
			return nil, nil, types.NewError(types.ErrToolAccessDenied,
				fmt.Sprintf("principal is not allowed to use tool %q", tool))
		}
	}

	client, err := s.factory.GetClient(ctx, principal, agentID, toolNames)
	if err == nil {
		return client, principal, nil
	}

	status := types.HTTPStatusOf(err)
	if principal == nil || s.refresh == nil ||
		(status != http.StatusUnauthorized && status != http.StatusForbidden) {
		return nil, nil, err
	}

	// The server refused our credentials: reactive refresh, then one
	// more attempt with the new token.
	refreshed, refreshErr := s.refresh.HandleAuthFailure(ctx, principal, status)
	if refreshErr != nil || refreshed == nil {
		s.metrics.RecordRefreshAttempt("reactive", "failure")
		if refreshErr == nil {
			refreshErr = err
		}
		return nil, nil, types.NewError(types.ErrUnauthorized, "tool server rejected credentials and refresh failed").
			WithHTTPStatus(status).WithCause(refreshErr)
	}
	s.metrics.RecordRefreshAttempt("reactive", "success")

	// Drop the entry keyed by the stale credentials.
	s.factory.Invalidate(principal, agentID, toolNames)

	client, err = s.factory.GetClient(ctx, refreshed, agentID, toolNames)
	if err != nil {
		return nil, nil, err
	}
	return client, refreshed, nil
}
