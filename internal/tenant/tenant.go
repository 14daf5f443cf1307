// Package tenant provides the principal model and tenant-scoped authorization.
//
// Every other component calls Authorize before touching an entity. The
// principal's claims are supplied by the external authentication collaborator;
// this package holds no persistent state.
package tenant

import (
	"fmt"

	"github.com/relaydesk/relaydesk/internal/engine"
)

// Role identifies what a principal is allowed to do. Roles form a closed
// enumeration; free-form strings are rejected at the boundary via ParseRole.
type Role string

const (
	// RoleOwner owns a single tenant and may manage its agents, knowledge,
	// and conversations.
	RoleOwner Role = "owner"

	// RoleAdmin has the same tenant scope as owner; kept distinct so the
	// external layer can restrict destructive operations.
	RoleAdmin Role = "admin"

	// RoleSuperAdmin bypasses tenant scoping entirely.
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole validates a role string against the enumeration.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOwner, RoleAdmin, RoleSuperAdmin:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", engine.ErrInvalidInput, s)
	}
}

// Principal is the authenticated actor performing an operation.
type Principal struct {
	TenantID string
	Role     Role
}

// Service returns the principal used by trusted service-to-service callers
// (the inbound customer-message channel). It bypasses tenant scoping the same
// way super_admin does.
func Service() Principal {
	return Principal{Role: RoleSuperAdmin}
}

// CanAccess reports whether the principal may touch entities owned by the
// given tenant.
func (p Principal) CanAccess(tenantID string) bool {
	if p.Role == RoleSuperAdmin {
		return true
	}
	return p.TenantID != "" && p.TenantID == tenantID
}

// Authorize returns ErrForbidden unless the principal may act on the given
// tenant. Read paths that must not leak existence convert this to ErrNotFound
// at the call site.
func Authorize(p Principal, tenantID string) error {
	if p.CanAccess(tenantID) {
		return nil
	}
	return fmt.Errorf("%w: principal of tenant %q cannot access tenant %q",
		engine.ErrForbidden, p.TenantID, tenantID)
}
