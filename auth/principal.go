// Package auth provides the authenticated-identity model (Principal),
// tool authorization decisions, and token lifecycle management for
// agent invocations.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/deskhive/deskhive/types"
)

// SessionType identifies how the principal authenticated.
type SessionType string

const (
	SessionWeb         SessionType = "web"
	SessionAPI         SessionType = "api"
	SessionJWT         SessionType = "jwt"
	SessionMCP         SessionType = "mcp"
	SessionIntegration SessionType = "integration"
)

// TokenKind tags the shape of the principal's credential so refresh can
// dispatch without sniffing the token value.
type TokenKind string

const (
	// TokenOpaque is a long-lived API token revalidated against the
	// issuing authority; it is never rotated.
	TokenOpaque TokenKind = "opaque"
	// TokenJWT is a short-lived access token refreshed via a
	// refresh-token exchange.
	TokenJWT TokenKind = "jwt"
)

// Principal is an immutable authenticated identity. It lives for the
// duration of one request or agent invocation and is never persisted.
// Every mutation method returns a new Principal; the original is never
// changed in place.
type Principal struct {
	// Identity
	UserID         string
	OrganizationID string
	Email          string
	FullName       string

	// Authorization
	Roles       []string
	Permissions []string
	Scopes      []string

	// Session
	SessionID   string
	SessionType SessionType

	// Token lifecycle
	TokenKind      TokenKind
	TokenIssuedAt  time.Time
	TokenExpiresAt time.Time
	APIToken       string
	RefreshToken   string
	RawPayload     map[string]any
	LastUsedAt     time.Time
}

// NewPrincipal constructs a Principal, validating the required identity
// fields. A malformed identity fails fast here rather than producing
// authorization decisions later.
func NewPrincipal(p Principal) (*Principal, error) {
	if p.UserID == "" || p.OrganizationID == "" || p.Email == "" {
		return nil, types.NewError(types.ErrInvalidPrincipal,
			"principal requires user_id, organization_id and email")
	}
	if p.SessionType == "" {
		p.SessionType = SessionWeb
	}
	if p.TokenKind == "" {
		p.TokenKind = TokenJWT
	}

	// Defensive copies keep the value object immutable even if the
	// caller retains the input slices.
	p.Roles = cloneStrings(p.Roles)
	p.Permissions = cloneStrings(p.Permissions)
	p.Scopes = cloneStrings(p.Scopes)
	p.RawPayload = clonePayload(p.RawPayload)

	return &p, nil
}

// HasRole reports direct role membership.
func (p *Principal) HasRole(role string) bool {
	return contains(p.Roles, role)
}

// HasPermission reports permission membership, honoring the wildcard
// sentinels "*" and "all".
func (p *Principal) HasPermission(perm string) bool {
	if contains(p.Permissions, "*") || contains(p.Permissions, "all") {
		return true
	}
	return contains(p.Permissions, perm)
}

// HasScope reports scope membership, honoring the wildcard sentinel.
func (p *Principal) HasScope(scope string) bool {
	if contains(p.Scopes, "*") || contains(p.Scopes, "all") {
		return true
	}
	return contains(p.Scopes, scope)
}

// IsTokenExpired reports whether the credential is past its expiry.
// The comparison is strict and timezone-aware.
func (p *Principal) IsTokenExpired() bool {
	return !time.Now().UTC().Before(p.TokenExpiresAt.UTC())
}

// IsTokenValid holds iff the token has not expired and all required
// identity fields are present.
func (p *Principal) IsTokenValid() bool {
	if p.UserID == "" || p.OrganizationID == "" || p.Email == "" {
		return false
	}
	return !p.IsTokenExpired()
}

// GetAuthToken returns the credential to propagate into tool clients,
// in priority order: opaque API token, raw provider access token from
// the session payload, refresh token as a last resort. Empty when none
// is present.
func (p *Principal) GetAuthToken() string {
	if p.APIToken != "" {
		return p.APIToken
	}
	if p.RawPayload != nil {
		if t, ok := p.RawPayload["access_token"].(string); ok && t != "" {
			return t
		}
	}
	return p.RefreshToken
}

// GetCacheHash returns a deterministic short digest identifying this
// principal for tool-client caching. Identical identity, roles,
// permissions, session type and auth token produce identical hashes.
func (p *Principal) GetCacheHash() string {
	roles := cloneStrings(p.Roles)
	perms := cloneStrings(p.Permissions)
	sort.Strings(roles)
	sort.Strings(perms)

	tokenDigest := sha256.Sum256([]byte(p.GetAuthToken()))

	var b strings.Builder
	b.WriteString(p.UserID)
	b.WriteByte('|')
	b.WriteString(p.OrganizationID)
	b.WriteByte('|')
	b.WriteString(strings.Join(roles, ","))
	b.WriteByte('|')
	b.WriteString(strings.Join(perms, ","))
	b.WriteByte('|')
	b.WriteString(string(p.SessionType))
	b.WriteByte('|')
	b.WriteString(hex.EncodeToString(tokenDigest[:8]))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// WithLastUsed returns a copy with the last-used timestamp updated.
func (p *Principal) WithLastUsed(t time.Time) *Principal {
	cp := p.clone()
	cp.LastUsedAt = t.UTC()
	return cp
}

// WithExtendedExpiry returns a copy with the expiry pushed out to the
// given instant.
func (p *Principal) WithExtendedExpiry(expiresAt time.Time) *Principal {
	cp := p.clone()
	cp.TokenExpiresAt = expiresAt.UTC()
	return cp
}

// WithRefreshedTokens returns a copy carrying a new access/refresh pair.
// An empty refreshToken preserves the existing one.
func (p *Principal) WithRefreshedTokens(accessToken, refreshToken string, expiresAt time.Time) *Principal {
	cp := p.clone()
	if cp.RawPayload == nil {
		cp.RawPayload = make(map[string]any)
	}
	cp.RawPayload["access_token"] = accessToken
	if refreshToken != "" {
		cp.RefreshToken = refreshToken
	}
	cp.TokenIssuedAt = time.Now().UTC()
	cp.TokenExpiresAt = expiresAt.UTC()
	return cp
}

// String implements fmt.Stringer without leaking credentials.
func (p *Principal) String() string {
	return fmt.Sprintf("Principal(user=%s org=%s session=%s roles=%v)",
		p.UserID, p.OrganizationID, p.SessionType, p.Roles)
}

// clone deep-copies the principal.
func (p *Principal) clone() *Principal {
	cp := *p
	cp.Roles = cloneStrings(p.Roles)
	cp.Permissions = cloneStrings(p.Permissions)
	cp.Scopes = cloneStrings(p.Scopes)
	cp.RawPayload = clonePayload(p.RawPayload)
	return &cp
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func cloneStrings(xs []string) []string {
	if xs == nil {
		return nil
	}
	out := make([]string, len(xs))
	copy(out, xs)
	return out
}

func clonePayload(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
