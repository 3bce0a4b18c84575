package users

import (
	"fmt"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
)

// RoleType represents a user's role within their tenant
type RoleType string

const (
	RoleViewer     RoleType = "viewer"      // Read-only access to dashboards
	RoleAnalyst    RoleType = "analyst"     // Can build and run analyses
	RoleAdmin      RoleType = "admin"       // Can manage users and settings within a tenant
	RoleSuperAdmin RoleType = "super_admin" // Can manage all tenants
)

var knownRoles = map[RoleType]struct{}{
	RoleViewer:     {},
	RoleAnalyst:    {},
	RoleAdmin:      {},
	RoleSuperAdmin: {},
}

// IsKnown reports whether r belongs to the fixed role set.
func (r RoleType) IsKnown() bool {
	_, ok := knownRoles[r]
	return ok
}

// IsElevated reports whether the role carries administrative rights.
func (r RoleType) IsElevated() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Permission is the access grant of a user for one bundled application.
type Permission struct {
	Application string `json:"application"`         // Application identifier
	CanAccess   bool   `json:"can_access"`          // Can open the application
	CanEdit     bool   `json:"can_edit,omitempty"`  // Can change data within the application
	CanAdmin    bool   `json:"can_admin,omitempty"` // Can configure the application
}

// Profile is the identity of the signed-in user as returned by the backend.
type Profile struct {
	ID          string       `json:"id"`                    // Unique identifier for the user
	Email       string       `json:"email,omitempty"`       // User's email address
	Name        string       `json:"name,omitempty"`        // Display name
	Role        RoleType     `json:"role,omitempty"`        // Role within the tenant
	TenantID    string       `json:"tenant_id,omitempty"`   // Tenant the user belongs to
	Permissions []Permission `json:"permissions,omitempty"` // Per-application grants
}

// Validate checks the profile for the defects that point at broken session data.
// An elevated role with no permissions is never accepted silently.
func (p *Profile) Validate() error {
	if p == nil {
		return fmt.Errorf("[Profile Validate] %w: missing user", autherrors.ErrInvalidRequest)
	}
	if p.ID == "" {
		return fmt.Errorf("[Profile Validate] %w: missing user id", autherrors.ErrInvalidRequest)
	}
	if p.Role != "" && !p.Role.IsKnown() {
		return fmt.Errorf("[Profile Validate] %w: unknown role %q", autherrors.ErrInvalidRequest, p.Role)
	}
	if p.Role.IsElevated() && len(p.Permissions) == 0 {
		return fmt.Errorf("[Profile Validate] user %s with role %s: %w", p.ID, p.Role, autherrors.ErrInconsistentPermissions)
	}
	return nil
}

// IsSuperAdmin returns true if the user has super admin privileges
func (p *Profile) IsSuperAdmin() bool {
	return p.Role == RoleSuperAdmin
}

// Permission returns the grant for a specific application
func (p *Profile) Permission(application string) *Permission {
	for i := range p.Permissions {
		if p.Permissions[i].Application == application {
			return &p.Permissions[i]
		}
	}
	return nil
}

// CanAccess checks if the user may open the given application
func (p *Profile) CanAccess(application string) bool {
	if p.IsSuperAdmin() {
		return true
	}
	perm := p.Permission(application)
	return perm != nil && perm.CanAccess
}

// WithPermissions returns a copy of the profile carrying perms when it has none of its own.
func (p Profile) WithPermissions(perms []Permission) Profile {
	if len(p.Permissions) == 0 && len(perms) > 0 {
		p.Permissions = append([]Permission(nil), perms...)
	}
	return p
}
