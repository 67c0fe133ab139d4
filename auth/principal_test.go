package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/deskhive/deskhive/types"
)

func validPrincipal(t *testing.T, mutate func(*Principal)) *Principal {
	t.Helper()
	p := Principal{
		UserID:         "u-1",
		OrganizationID: "org-1",
		Email:          "user@example.com",
		SessionType:    SessionWeb,
		TokenKind:      TokenJWT,
		APIToken:       "tok-abc",
		TokenIssuedAt:  time.Now().UTC(),
		TokenExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if mutate != nil {
		mutate(&p)
	}
	out, err := NewPrincipal(p)
	require.NoError(t, err)
	return out
}

func TestNewPrincipal_FailsFastOnMissingIdentity(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name   string
		mutate func(*Principal)
	}{
		{"missing user_id", func(p *Principal) { p.UserID = "" }},
		{"missing organization_id", func(p *Principal) { p.OrganizationID = "" }},
		{"missing email", func(p *Principal) { p.Email = "" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := Principal{
				UserID:         "u-1",
				OrganizationID: "org-1",
				Email:          "user@example.com",
				TokenExpiresAt: time.Now().Add(time.Hour),
			}
			tc.mutate(&p)
			_, err := NewPrincipal(p)
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrInvalidPrincipal))
		})
	}
}

func TestPrincipal_TokenValidity(t *testing.T) {
	t.Parallel()

	p := validPrincipal(t, nil)
	assert.True(t, p.IsTokenValid())
	assert.False(t, p.IsTokenExpired())

	expired := validPrincipal(t, func(p *Principal) {
		p.TokenExpiresAt = time.Now().UTC().Add(-time.Hour)
	})
	assert.False(t, expired.IsTokenValid())
	assert.True(t, expired.IsTokenExpired())
}

func TestPrincipal_WildcardPermissions(t *testing.T) {
	t.Parallel()

	p := validPrincipal(t, func(p *Principal) { p.Permissions = []string{"*"} })
	assert.True(t, p.HasPermission("anything.at.all"))

	p = validPrincipal(t, func(p *Principal) { p.Permissions = []string{"all"} })
	assert.True(t, p.HasPermission("ticket.delete"))

	p = validPrincipal(t, func(p *Principal) { p.Permissions = []string{"ticket.read"} })
	assert.True(t, p.HasPermission("ticket.read"))
	assert.False(t, p.HasPermission("ticket.delete"))
}

func TestCanAccessTool_AdminBypassesPermissions(t *testing.T) {
	t.Parallel()

	// Admin may call delete_user without explicit permission.
	admin := validPrincipal(t, func(p *Principal) { p.Roles = []string{RoleAdmin} })
	assert.True(t, admin.CanAccessTool("delete_user"))

	super := validPrincipal(t, func(p *Principal) { p.Roles = []string{RoleSuperAdmin} })
	assert.True(t, super.CanAccessTool("system_shutdown"))
}

func TestCanAccessTool_ManagerSensitiveTools(t *testing.T) {
	t.Parallel()

	mgr := validPrincipal(t, func(p *Principal) { p.Roles = []string{RoleManager} })
	assert.True(t, mgr.CanAccessTool("create_ticket"))
	assert.True(t, mgr.CanAccessTool("some_unlisted_tool"))
	// Manager without admin.override is denied sensitive tools.
	assert.False(t, mgr.CanAccessTool("delete_user"))
	assert.False(t, mgr.CanAccessTool("security_bypass"))

	withOverride := validPrincipal(t, func(p *Principal) {
		p.Roles = []string{RoleManager}
		p.Permissions = []string{PermAdminOverride}
	})
	assert.True(t, withOverride.CanAccessTool("delete_user"))
}

func TestCanAccessTool_PermissionTableORSemantics(t *testing.T) {
	t.Parallel()

	p := validPrincipal(t, func(p *Principal) {
		p.Permissions = []string{"ticket.write"}
	})
	// create_ticket grants on ticket.create OR ticket.write.
	assert.True(t, p.CanAccessTool("create_ticket"))
	assert.False(t, p.CanAccessTool("delete_ticket"))
}

func TestCanAccessTool_UnknownToolDeniedByDefault(t *testing.T) {
	t.Parallel()

	p := validPrincipal(t, func(p *Principal) { p.Permissions = []string{"ticket.read"} })
	assert.False(t, p.CanAccessTool("mystery_tool"))

	dev := validPrincipal(t, func(p *Principal) { p.Roles = []string{RoleDeveloper} })
	assert.True(t, dev.CanAccessTool("mystery_tool"))

	toolAll := validPrincipal(t, func(p *Principal) { p.Permissions = []string{PermToolAll} })
	assert.True(t, toolAll.CanAccessTool("mystery_tool"))
}

func TestCanAccessTool_UserRoleBasicAllowlist(t *testing.T) {
	t.Parallel()

	// Scenario: roles=["user"], permissions=[].
	p := validPrincipal(t, func(p *Principal) { p.Roles = []string{RoleUser} })
	assert.True(t, p.CanAccessTool("create_ticket"))
	assert.True(t, p.CanAccessTool("get_thread"))
	assert.False(t, p.CanAccessTool("delete_ticket"))
	assert.False(t, p.CanAccessTool("archive_thread"))
}

func TestCanAccessTool_ExpiredAlwaysDenies(t *testing.T) {
	t.Parallel()

	// Expiry denies regardless of roles.
	for _, role := range []string{RoleAdmin, RoleSuperAdmin, RoleManager, RoleDeveloper, RoleUser} {
		expired := validPrincipal(t, func(p *Principal) {
			p.Roles = []string{role}
			p.Permissions = []string{"*"}
			p.TokenExpiresAt = time.Now().UTC().Add(-time.Hour)
		})
		assert.False(t, expired.CanAccessTool("create_ticket"), "role %s", role)
	}
}

func TestGetAuthToken_PriorityOrder(t *testing.T) {
	t.Parallel()

	p := validPrincipal(t, func(p *Principal) {
		p.APIToken = "api-tok"
		p.RawPayload = map[string]any{"access_token": "raw-tok"}
		p.RefreshToken = "refresh-tok"
	})
	assert.Equal(t, "api-tok", p.GetAuthToken())

	p = validPrincipal(t, func(p *Principal) {
		p.APIToken = ""
		p.RawPayload = map[string]any{"access_token": "raw-tok"}
		p.RefreshToken = "refresh-tok"
	})
	assert.Equal(t, "raw-tok", p.GetAuthToken())

	p = validPrincipal(t, func(p *Principal) {
		p.APIToken = ""
		p.RawPayload = nil
		p.RefreshToken = "refresh-tok"
	})
	assert.Equal(t, "refresh-tok", p.GetAuthToken())

	p = validPrincipal(t, func(p *Principal) {
		p.APIToken = ""
		p.RawPayload = nil
		p.RefreshToken = ""
	})
	assert.Empty(t, p.GetAuthToken())
}

func TestGetCacheHash_Deterministic(t *testing.T) {
	t.Parallel()

	// Identical inputs produce identical hashes, regardless of
	// slice ordering.
	a := validPrincipal(t, func(p *Principal) {
		p.Roles = []string{"user", "manager"}
		p.Permissions = []string{"ticket.read", "ticket.write"}
	})
	b := validPrincipal(t, func(p *Principal) {
		p.Roles = []string{"manager", "user"}
		p.Permissions = []string{"ticket.write", "ticket.read"}
	})
	assert.Equal(t, a.GetCacheHash(), b.GetCacheHash())
	assert.Equal(t, a.GetCacheHash(), a.GetCacheHash())

	changed := validPrincipal(t, func(p *Principal) {
		p.Roles = []string{"user", "manager"}
		p.Permissions = []string{"ticket.read"}
	})
	assert.NotEqual(t, a.GetCacheHash(), changed.GetCacheHash())
}

func TestGetCacheHash_FieldSensitivity(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		base := Principal{
			UserID:         rapid.StringMatching(`u-[a-z0-9]{1,8}`).Draw(rt, "user"),
			OrganizationID: rapid.StringMatching(`org-[a-z0-9]{1,8}`).Draw(rt, "org"),
			Email:          "x@example.com",
			Roles:          []string{"user"},
			SessionType:    SessionAPI,
			APIToken:       rapid.StringMatching(`tok-[a-z0-9]{1,12}`).Draw(rt, "token"),
			TokenExpiresAt: time.Now().Add(time.Hour),
		}
		p1, err := NewPrincipal(base)
		if err != nil {
			rt.Fatal(err)
		}
		p2, err := NewPrincipal(base)
		if err != nil {
			rt.Fatal(err)
		}
		if p1.GetCacheHash() != p2.GetCacheHash() {
			rt.Fatalf("hash not deterministic for %v", base.UserID)
		}

		other := base
		other.UserID = base.UserID + "x"
		p3, err := NewPrincipal(other)
		if err != nil {
			rt.Fatal(err)
		}
		if p1.GetCacheHash() == p3.GetCacheHash() {
			rt.Fatalf("hash did not change with user_id")
		}
	})
}

func TestPrincipal_MutationReturnsCopy(t *testing.T) {
	t.Parallel()

	orig := validPrincipal(t, nil)
	origExpiry := orig.TokenExpiresAt

	updated := orig.WithExtendedExpiry(origExpiry.Add(24 * time.Hour))
	assert.Equal(t, origExpiry, orig.TokenExpiresAt, "original must be untouched")
	assert.Equal(t, origExpiry.Add(24*time.Hour), updated.TokenExpiresAt)

	used := orig.WithLastUsed(time.Now())
	assert.True(t, orig.LastUsedAt.IsZero())
	assert.False(t, used.LastUsedAt.IsZero())

	refreshed := orig.WithRefreshedTokens("new-access", "new-refresh", time.Now().Add(time.Hour))
	assert.Equal(t, "new-refresh", refreshed.RefreshToken)
	assert.NotEqual(t, orig.RefreshToken, refreshed.RefreshToken)
}

func TestPrincipal_InputSlicesAreCopied(t *testing.T) {
	t.Parallel()

	roles := []string{"user"}
	p := validPrincipal(t, func(p *Principal) { p.Roles = roles })
	roles[0] = "admin"
	assert.False(t, p.HasRole("admin"))
	assert.True(t, p.HasRole("user"))
}
