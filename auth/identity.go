package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deskhive/deskhive/types"
)

// HTTPIdentityProvider talks to an OAuth2-style identity provider over
// HTTP: token introspection for opaque tokens and refresh-token
// exchange for JWTs.
type HTTPIdentityProvider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPIdentityProvider creates a provider for the IdP at baseURL.
func NewHTTPIdentityProvider(baseURL string, logger *zap.Logger) *HTTPIdentityProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPIdentityProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With(zap.String("component", "identity_provider")),
	}
}

// Verify introspects an opaque token. A non-active token is an error.
func (p *HTTPIdentityProvider) Verify(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/oauth/introspect", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("introspect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewError(types.ErrUnauthorized, "token introspection rejected").
			WithHTTPStatus(resp.StatusCode)
	}

	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode introspection response: %w", err)
	}
	if !body.Active {
		return types.NewError(types.ErrTokenExpired, "token is no longer active")
	}
	return nil
}

// Exchange trades a refresh token for a new token pair.
func (p *HTTPIdentityProvider) Exchange(ctx context.Context, refreshToken string) (*TokenPair, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewError(types.ErrUnauthorized, "refresh token exchange rejected").
			WithHTTPStatus(resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return nil, types.NewError(types.ErrUnauthorized, "identity provider returned no access token")
	}

	expiresAt := time.Now().UTC().Add(time.Duration(body.ExpiresIn) * time.Second)
	return &TokenPair{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}
