package auth

// Role names with special handling in tool authorization.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
	RoleManager    = "manager"
	RoleDeveloper  = "developer"
	RoleUser       = "user"
)

// PermAdminOverride unlocks highly sensitive tools for managers.
const PermAdminOverride = "admin.override"

// PermToolAll grants access to tools absent from the permission table.
const PermToolAll = "tool.all"

// sensitiveTools are denied to managers unless they hold admin.override.
var sensitiveTools = map[string]struct{}{
	"delete_user":         {},
	"delete_organization": {},
	"system_shutdown":     {},
	"admin_override":      {},
	"security_bypass":     {},
}

// toolPermissions maps tool names to the permissions that grant them.
// Holding ANY listed permission grants access (OR semantics).
var toolPermissions = map[string][]string{
	"create_ticket":       {"ticket.create", "ticket.write"},
	"update_ticket":       {"ticket.update", "ticket.write"},
	"delete_ticket":       {"ticket.delete"},
	"get_ticket":          {"ticket.read"},
	"search_tickets":      {"ticket.read", "ticket.search"},
	"list_threads":        {"thread.read"},
	"get_thread":          {"thread.read"},
	"archive_thread":      {"thread.archive", "thread.write"},
	"send_notification":   {"notification.send"},
	"create_integration":  {"integration.create"},
	"delete_integration":  {"integration.delete"},
	"delete_user":         {"user.delete"},
	"delete_organization": {"organization.delete"},
	"system_shutdown":     {"system.admin"},
	"admin_override":      {"system.admin"},
	"security_bypass":     {"system.admin"},
}

// basicUserTools is the allowlist available to the plain "user" role
// without explicit permissions.
var basicUserTools = map[string]struct{}{
	"create_ticket":  {},
	"get_ticket":     {},
	"search_tickets": {},
	"list_threads":   {},
	"get_thread":     {},
}

// CanAccessTool is the tool authorization decision. Checks are applied
// in precedence order; the first grant wins and an expired token denies
// everything.
func (p *Principal) CanAccessTool(toolName string) bool {
	// 1. An expired token denies unconditionally.
	if p.IsTokenExpired() {
		return false
	}

	// 2. Admins are allowed unconditionally.
	if p.HasRole(RoleAdmin) || p.HasRole(RoleSuperAdmin) {
		return true
	}

	// 3. Managers are allowed everything except highly sensitive tools,
	// which additionally require admin.override.
	if p.HasRole(RoleManager) {
		if _, sensitive := sensitiveTools[toolName]; sensitive {
			return p.HasPermission(PermAdminOverride)
		}
		return true
	}

	// 4. Known tools grant on any matching permission.
	if required, known := toolPermissions[toolName]; known {
		for _, perm := range required {
			if p.HasPermission(perm) {
				return true
			}
		}
	} else {
		// 5. Unknown tools deny by default unless the principal holds
		// tool.all or the developer role.
		if p.HasPermission(PermToolAll) || p.HasRole(RoleDeveloper) {
			return true
		}
	}

	// 6. The plain user role keeps a basic-tool allowlist.
	if p.HasRole(RoleUser) {
		if _, ok := basicUserTools[toolName]; ok {
			return true
		}
	}

	// 7. Deny.
	return false
}
