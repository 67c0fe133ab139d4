package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/deskhive/deskhive/types"
)

// TokenPair is the result of a refresh-token exchange with the identity
// provider.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// IdentityProvider is the boundary to the external token authority.
type IdentityProvider interface {
	// Verify revalidates an opaque API token. A nil error means the
	// token is still good.
	Verify(ctx context.Context, token string) error

	// Exchange trades a refresh token for a new access/refresh pair.
	Exchange(ctx context.Context, refreshToken string) (*TokenPair, error)
}

// RefreshConfig holds the token renewal policy knobs.
type RefreshConfig struct {
	// Lookahead triggers proactive refresh when the token expires
	// within this window. Opaque tokens are exempt until actually
	// expired.
	Lookahead time.Duration

	// MaxRetries bounds reactive refresh attempts on 401/403.
	MaxRetries int

	// BaseDelay is the initial backoff; each retry doubles it.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// OpaqueExtension pushes out a revalidated opaque token's expiry.
	OpaqueExtension time.Duration

	// LocalMintTTL is the lifetime of locally minted fallback tokens.
	LocalMintTTL time.Duration

	// ReactiveRate throttles reactive refreshes per principal to guard
	// the identity provider against 401 storms.
	ReactiveRate  rate.Limit
	ReactiveBurst int
}

// DefaultRefreshConfig returns the default renewal policy.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Lookahead:       5 * time.Minute,
		MaxRetries:      2,
		BaseDelay:       time.Second,
		MaxDelay:        10 * time.Second,
		OpaqueExtension: 24 * time.Hour,
		LocalMintTTL:    time.Hour,
		ReactiveRate:    rate.Every(time.Second),
		ReactiveBurst:   10,
	}
}

// RefreshManager decides when a Principal's credential should be
// renewed and performs the renewal. Failure is never fatal to the
// caller: a nil Principal result means "proceed without this
// credential".
type RefreshManager struct {
	provider   IdentityProvider
	config     RefreshConfig
	signingKey []byte
	logger     *zap.Logger

	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex

	// sleep is test-injectable; it must suspend cooperatively and
	// observe ctx cancellation.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRefreshManager creates a RefreshManager. signingKey signs locally
// minted fallback tokens; it may be nil to disable local minting.
func NewRefreshManager(provider IdentityProvider, config RefreshConfig, signingKey []byte, logger *zap.Logger) *RefreshManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxDelay < config.BaseDelay {
		config.MaxDelay = 10 * time.Second
	}
	if config.ReactiveRate == 0 {
		config.ReactiveRate = rate.Every(time.Second)
	}
	if config.ReactiveBurst <= 0 {
		config.ReactiveBurst = 10
	}
	return &RefreshManager{
		provider:   provider,
		config:     config,
		signingKey: signingKey,
		logger:     logger.With(zap.String("component", "token_refresh")),
		limiters:   make(map[string]*rate.Limiter),
		sleep:      sleepCtx,
	}
}

// ShouldRefresh reports whether the principal's credential should be
// proactively renewed: already expired, or expiring within the
// lookahead window. Opaque API tokens are treated as long-lived and are
// only refreshed once actually expired.
func (m *RefreshManager) ShouldRefresh(p *Principal) bool {
	if p.IsTokenExpired() {
		return true
	}
	if p.TokenKind == TokenOpaque {
		return false
	}
	return time.Until(p.TokenExpiresAt) < m.config.Lookahead
}

// Refresh renews the principal's credential, dispatching on the token
// kind. A nil Principal with a nil error means renewal was not possible
// and the caller should degrade gracefully.
func (m *RefreshManager) Refresh(ctx context.Context, p *Principal) (*Principal, error) {
	switch p.TokenKind {
	case TokenOpaque:
		return m.refreshOpaque(ctx, p)
	case TokenJWT:
		return m.refreshJWT(ctx, p)
	default:
		m.logger.Warn("unknown token kind", zap.String("kind", string(p.TokenKind)))
		return nil, nil
	}
}

// refreshOpaque revalidates the opaque token against the issuing
// authority. No new token string is issued; the expiry is extended.
func (m *RefreshManager) refreshOpaque(ctx context.Context, p *Principal) (*Principal, error) {
	if p.APIToken == "" {
		return nil, nil
	}
	if err := m.provider.Verify(ctx, p.APIToken); err != nil {
		m.logger.Warn("opaque token revalidation failed",
			zap.String("user_id", p.UserID),
			zap.Error(err),
		)
		return nil, nil
	}

	now := time.Now().UTC()
	refreshed := p.WithExtendedExpiry(now.Add(m.config.OpaqueExtension)).WithLastUsed(now)

	m.logger.Debug("opaque token revalidated",
		zap.String("user_id", p.UserID),
		zap.Time("expires_at", refreshed.TokenExpiresAt),
	)
	return refreshed, nil
}

// refreshJWT exchanges the refresh token with the identity provider.
// On provider failure it falls back to locally minting a short-lived
// access token bound to the same identity, preserving the existing
// refresh token.
func (m *RefreshManager) refreshJWT(ctx context.Context, p *Principal) (*Principal, error) {
	if p.RefreshToken == "" {
		return nil, nil
	}

	pair, err := m.provider.Exchange(ctx, p.RefreshToken)
	if err == nil && pair != nil {
		refreshed := p.WithRefreshedTokens(pair.AccessToken, pair.RefreshToken, pair.ExpiresAt).
			WithLastUsed(time.Now().UTC())
		m.logger.Debug("refresh token exchanged",
			zap.String("user_id", p.UserID),
			zap.Time("expires_at", refreshed.TokenExpiresAt),
		)
		return refreshed, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.logger.Warn("refresh token exchange failed, minting local fallback token",
		zap.String("user_id", p.UserID),
		zap.Error(err),
	)

	if len(m.signingKey) == 0 {
		return nil, nil
	}
	signed, expiresAt, mintErr := mintLocalToken(m.signingKey, p, m.config.LocalMintTTL)
	if mintErr != nil {
		m.logger.Error("local token mint failed", zap.Error(mintErr))
		return nil, nil
	}
	refreshed := p.WithRefreshedTokens(signed, "", expiresAt).WithLastUsed(time.Now().UTC())
	return refreshed, nil
}

// HandleAuthFailure reacts to an observed 401/403 from a downstream
// tool call by retrying Refresh with exponential backoff. Any other
// status is a no-op: it is not a token problem. A nil Principal result
// means all attempts were exhausted and the caller should proceed
// unauthenticated or surface an auth error.
func (m *RefreshManager) HandleAuthFailure(ctx context.Context, p *Principal, httpStatus int) (*Principal, error) {
	if httpStatus != 401 && httpStatus != 403 {
		return nil, nil
	}

	if !m.reactiveLimiter(p.GetCacheHash()).Allow() {
		m.logger.Warn("reactive refresh throttled",
			zap.String("user_id", p.UserID),
			zap.Int("status", httpStatus),
		)
		return nil, types.NewError(types.ErrRefreshExhausted, "reactive refresh throttled")
	}

	attempts := m.config.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := m.backoffDelay(attempt - 1)
			m.logger.Debug("retrying token refresh",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			if err := m.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		refreshed, err := m.Refresh(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		if refreshed != nil {
			m.logger.Info("token refreshed after auth failure",
				zap.String("user_id", p.UserID),
				zap.Int("status", httpStatus),
				zap.Int("attempts", attempt+1),
			)
			return refreshed, nil
		}
	}

	m.logger.Warn("token refresh attempts exhausted",
		zap.String("user_id", p.UserID),
		zap.Int("attempts", attempts),
	)
	return nil, types.NewError(types.ErrRefreshExhausted, "all refresh attempts failed").WithCause(lastErr)
}

// backoffDelay computes base*2^attempt capped at MaxDelay.
func (m *RefreshManager) backoffDelay(attempt int) time.Duration {
	delay := m.config.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxDelay {
			return m.config.MaxDelay
		}
	}
	if delay > m.config.MaxDelay {
		delay = m.config.MaxDelay
	}
	return delay
}

func (m *RefreshManager) reactiveLimiter(key string) *rate.Limiter {
	m.limitersMu.Lock()
	defer m.limitersMu.Unlock()
	l, ok := m.limiters[key]
	if !ok {
		l = rate.NewLimiter(m.config.ReactiveRate, m.config.ReactiveBurst)
		m.limiters[key] = l
	}
	return l
}

// sleepCtx suspends cooperatively, observing context cancellation so a
// cancelled request never schedules further refresh attempts.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
