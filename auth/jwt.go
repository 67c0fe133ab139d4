package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/deskhive/deskhive/types"
)

// JWTDecoder decodes bearer JWTs into Principals.
type JWTDecoder struct {
	secret     []byte
	parserOpts []jwt.ParserOption
}

// NewJWTDecoder creates a decoder verifying HS256 signatures with the
// given secret. issuer and audience are enforced when non-empty.
func NewJWTDecoder(secret []byte, issuer, audience string) *JWTDecoder {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &JWTDecoder{secret: secret, parserOpts: opts}
}

// DecodePrincipal verifies the bearer token and constructs a Principal
// from its claims. Construction validation applies: tokens missing the
// identity claims are rejected.
func (d *JWTDecoder) DecodePrincipal(tokenStr string) (*Principal, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return d.secret, nil
	}, d.parserOpts...)
	if err != nil {
		return nil, types.NewError(types.ErrUnauthorized, "invalid or expired token").WithCause(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, types.NewError(types.ErrUnauthorized, "invalid token claims")
	}

	p := Principal{
		UserID:         claimString(claims, "user_id", "sub"),
		OrganizationID: claimString(claims, "organization_id", "org_id"),
		Email:          claimString(claims, "email"),
		FullName:       claimString(claims, "full_name", "name"),
		Roles:          claimStrings(claims, "roles"),
		Permissions:    claimStrings(claims, "permissions"),
		Scopes:         claimScopes(claims),
		SessionID:      claimString(claims, "session_id"),
		SessionType:    SessionJWT,
		TokenKind:      TokenJWT,
		RawPayload:     map[string]any{"access_token": tokenStr},
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		p.TokenIssuedAt = iat.Time.UTC()
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.TokenExpiresAt = exp.Time.UTC()
	}
	if rt, ok := claims["refresh_token"].(string); ok {
		p.RefreshToken = rt
	}
	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}

	return NewPrincipal(p)
}

// mintLocalToken issues a short-lived HS256 access token bound to the
// principal's identity. Used as a fallback when the identity provider
// is unavailable during refresh.
func mintLocalToken(secret []byte, p *Principal, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	claims := jwt.MapClaims{
		"sub":             p.UserID,
		"user_id":         p.UserID,
		"organization_id": p.OrganizationID,
		"email":           p.Email,
		"iat":             now.Unix(),
		"exp":             expiresAt.Unix(),
		"jti":             uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign local token: %w", err)
	}
	return signed, expiresAt, nil
}

func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func claimStrings(claims jwt.MapClaims, key string) []string {
	raw, ok := claims[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// claimScopes handles both the OAuth space-separated "scope" claim and
// a "scopes" array claim.
func claimScopes(claims jwt.MapClaims) []string {
	if s, ok := claims["scope"].(string); ok && s != "" {
		return strings.Fields(s)
	}
	return claimStrings(claims, "scopes")
}
