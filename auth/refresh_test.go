package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskhive/deskhive/types"
)

// --- mocks ---

type mockProvider struct {
	verifyErrs    []error
	exchangeErrs  []error
	exchangePair  *TokenPair
	verifyCalls   int
	exchangeCalls int
}

func (m *mockProvider) Verify(_ context.Context, token string) error {
	m.verifyCalls++
	if len(m.verifyErrs) > 0 {
		err := m.verifyErrs[0]
		m.verifyErrs = m.verifyErrs[1:]
		return err
	}
	return nil
}

func (m *mockProvider) Exchange(_ context.Context, refreshToken string) (*TokenPair, error) {
	m.exchangeCalls++
	if len(m.exchangeErrs) > 0 {
		err := m.exchangeErrs[0]
		m.exchangeErrs = m.exchangeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if m.exchangePair != nil {
		return m.exchangePair, nil
	}
	return &TokenPair{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	}, nil
}

func newManager(t *testing.T, provider IdentityProvider, mutate func(*RefreshConfig)) (*RefreshManager, *[]time.Duration) {
	t.Helper()
	cfg := DefaultRefreshConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewRefreshManager(provider, cfg, []byte("test-signing-key"), nil)

	var slept []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return m, &slept
}

func jwtPrincipal(t *testing.T, mutate func(*Principal)) *Principal {
	t.Helper()
	p := Principal{
		UserID:         "u-1",
		OrganizationID: "org-1",
		Email:          "user@example.com",
		TokenKind:      TokenJWT,
		RefreshToken:   "refresh-tok",
		TokenExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if mutate != nil {
		mutate(&p)
	}
	out, err := NewPrincipal(p)
	require.NoError(t, err)
	return out
}

func TestShouldRefresh_LookaheadWindow(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t, &mockProvider{}, nil)

	fresh := jwtPrincipal(t, nil)
	assert.False(t, m.ShouldRefresh(fresh))

	soon := jwtPrincipal(t, func(p *Principal) {
		p.TokenExpiresAt = time.Now().UTC().Add(2 * time.Minute)
	})
	assert.True(t, m.ShouldRefresh(soon))

	expired := jwtPrincipal(t, func(p *Principal) {
		p.TokenExpiresAt = time.Now().UTC().Add(-time.Minute)
	})
	assert.True(t, m.ShouldRefresh(expired))
}

func TestShouldRefresh_OpaqueExemptFromLookahead(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t, &mockProvider{}, nil)

	soon := jwtPrincipal(t, func(p *Principal) {
		p.TokenKind = TokenOpaque
		p.APIToken = "api-tok"
		p.TokenExpiresAt = time.Now().UTC().Add(2 * time.Minute)
	})
	assert.False(t, m.ShouldRefresh(soon), "opaque tokens are long-lived until expired")

	expired := jwtPrincipal(t, func(p *Principal) {
		p.TokenKind = TokenOpaque
		p.APIToken = "api-tok"
		p.TokenExpiresAt = time.Now().UTC().Add(-time.Minute)
	})
	assert.True(t, m.ShouldRefresh(expired))
}

func TestRefresh_OpaqueRevalidatesAndExtends(t *testing.T) {
	t.Parallel()
	provider := &mockProvider{}
	m, _ := newManager(t, provider, nil)

	p := jwtPrincipal(t, func(p *Principal) {
		p.TokenKind = TokenOpaque
		p.APIToken = "api-tok"
	})

	refreshed, err := m.Refresh(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, refreshed)

	// Revalidated, not rotated.
	assert.Equal(t, "api-tok", refreshed.APIToken)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), refreshed.TokenExpiresAt, time.Minute)
	assert.False(t, refreshed.LastUsedAt.IsZero())
	assert.Equal(t, 1, provider.verifyCalls)
}

func TestRefresh_OpaqueRevalidationFailureReturnsNil(t *testing.T) {
	t.Parallel()
	provider := &mockProvider{verifyErrs: []error{errors.New("revoked")}}
	m, _ := newManager(t, provider, nil)

	p := jwtPrincipal(t, func(p *Principal) {
		p.TokenKind = TokenOpaque
		p.APIToken = "api-tok"
	})

	refreshed, err := m.Refresh(context.Background(), p)
	require.NoError(t, err)
	assert.Nil(t, refreshed)
}

func TestRefresh_JWTExchange(t *testing.T) {
	t.Parallel()
	provider := &mockProvider{}
	m, _ := newManager(t, provider, nil)

	p := jwtPrincipal(t, nil)
	refreshed, err := m.Refresh(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, refreshed)

	assert.Equal(t, "new-access", refreshed.RawPayload["access_token"])
	assert.Equal(t, "new-refresh", refreshed.RefreshToken)
	assert.Equal(t, 1, provider.exchangeCalls)
}

func TestRefresh_JWTProviderFailureMintsLocalToken(t *testing.T) {
	t.Parallel()
	provider := &mockProvider{exchangeErrs: []error{errors.New("idp down")}}
	m, _ := newManager(t, provider, nil)

	p := jwtPrincipal(t, nil)
	refreshed, err := m.Refresh(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, refreshed)

	// Local mint: new short-lived access token, same refresh token.
	assert.NotEmpty(t, refreshed.RawPayload["access_token"])
	assert.Equal(t, "refresh-tok", refreshed.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), refreshed.TokenExpiresAt, time.Minute)

	// The minted token decodes back to the same identity.
	decoder := NewJWTDecoder([]byte("test-signing-key"), "", "")
	decoded, err := decoder.DecodePrincipal(refreshed.RawPayload["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, p.UserID, decoded.UserID)
	assert.Equal(t, p.Email, decoded.Email)
}

func TestRefresh_JWTNoRefreshTokenReturnsNil(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t, &mockProvider{}, nil)

	p := jwtPrincipal(t, func(p *Principal) { p.RefreshToken = "" })
	refreshed, err := m.Refresh(context.Background(), p)
	require.NoError(t, err)
	assert.Nil(t, refreshed)
}

func TestHandleAuthFailure_IgnoresNonAuthStatus(t *testing.T) {
	t.Parallel()
	provider := &mockProvider{}
	m, _ := newManager(t, provider, nil)

	p := jwtPrincipal(t, nil)
	for _, status := range []int{200, 404, 429, 500, 503} {
		refreshed, err := m.HandleAuthFailure(context.Background(), p, status)
		assert.NoError(t, err)
		assert.Nil(t, refreshed)
	}
	assert.Zero(t, provider.exchangeCalls)
}

func TestHandleAuthFailure_RetriesWithBackoff(t *testing.T) {
	t.Parallel()

	// Scenario: refresh fails once then succeeds. Expect exactly two
	// attempts and one backoff sleep of BaseDelay.
	provider := &mockProvider{exchangeErrs: []error{errors.New("idp down"), nil}}
	m, slept := newManager(t, provider, func(c *RefreshConfig) {
		c.MaxRetries = 2
	})
	// Disable the local-mint fallback so the first failure is a miss.
	m.signingKey = nil

	p := jwtPrincipal(t, nil)
	refreshed, err := m.HandleAuthFailure(context.Background(), p, 401)
	require.NoError(t, err)
	require.NotNil(t, refreshed)

	assert.Equal(t, 2, provider.exchangeCalls)
	require.Len(t, *slept, 1)
	assert.Equal(t, time.Second, (*slept)[0])
}

func TestHandleAuthFailure_ExhaustionReturnsNil(t *testing.T) {
	t.Parallel()
	provider := &mockProvider{exchangeErrs: []error{errors.New("idp down"), errors.New("idp down")}}
	m, slept := newManager(t, provider, func(c *RefreshConfig) {
		c.MaxRetries = 2
	})
	m.signingKey = nil

	p := jwtPrincipal(t, nil)
	refreshed, err := m.HandleAuthFailure(context.Background(), p, 403)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrRefreshExhausted))
	assert.Nil(t, refreshed)
	assert.Len(t, *slept, 1)
}

func TestHandleAuthFailure_BackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()
	provider := &mockProvider{exchangeErrs: []error{
		errors.New("e"), errors.New("e"), errors.New("e"), errors.New("e"), errors.New("e"),
	}}
	m, slept := newManager(t, provider, func(c *RefreshConfig) {
		c.MaxRetries = 5
		c.BaseDelay = time.Second
		c.MaxDelay = 3 * time.Second
	})
	m.signingKey = nil

	p := jwtPrincipal(t, nil)
	_, err := m.HandleAuthFailure(context.Background(), p, 401)
	require.Error(t, err)

	require.Len(t, *slept, 4)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second,
	}, *slept)
}

func TestHandleAuthFailure_ObservesCancellation(t *testing.T) {
	t.Parallel()
	provider := &mockProvider{exchangeErrs: []error{errors.New("idp down"), nil}}
	m, _ := newManager(t, provider, func(c *RefreshConfig) { c.MaxRetries = 3 })
	m.signingKey = nil

	ctx, cancel := context.WithCancel(context.Background())
	m.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	p := jwtPrincipal(t, nil)
	refreshed, err := m.HandleAuthFailure(ctx, p, 401)
	require.Error(t, err)
	assert.Nil(t, refreshed)
	// No further provider calls after cancellation.
	assert.Equal(t, 1, provider.exchangeCalls)
}

func TestShouldRefresh_FalseAfterSuccessfulRefresh(t *testing.T) {
	t.Parallel()

	// A fresh token is left alone; refresh is a no-op.
	provider := &mockProvider{}
	m, _ := newManager(t, provider, nil)

	p := jwtPrincipal(t, func(p *Principal) {
		p.TokenExpiresAt = time.Now().UTC().Add(time.Minute)
	})
	require.True(t, m.ShouldRefresh(p))

	refreshed, err := m.Refresh(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, refreshed)
	assert.False(t, m.ShouldRefresh(refreshed))
}
