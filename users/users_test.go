package users_test

import (
	"testing"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/stretchr/testify/require"
)

func TestProfile_Validate(t *testing.T) {
	grants := []users.Permission{{Application: "insights", CanAccess: true}}

	t.Run("viewer without permissions", func(t *testing.T) {
		p := &users.Profile{ID: "u1", Role: users.RoleViewer}
		require.NoError(t, p.Validate())
	})

	t.Run("admin with permissions", func(t *testing.T) {
		p := &users.Profile{ID: "u1", Role: users.RoleAdmin, Permissions: grants}
		require.NoError(t, p.Validate())
	})

	t.Run("admin without permissions", func(t *testing.T) {
		p := &users.Profile{ID: "u1", Role: users.RoleAdmin}
		err := p.Validate()
		require.ErrorIs(t, err, autherrors.ErrInconsistentPermissions)
	})

	t.Run("super admin without permissions", func(t *testing.T) {
		p := &users.Profile{ID: "u1", Role: users.RoleSuperAdmin}
		require.ErrorIs(t, p.Validate(), autherrors.ErrInconsistentPermissions)
	})

	t.Run("unknown role", func(t *testing.T) {
		p := &users.Profile{ID: "u1", Role: "owner"}
		err := p.Validate()
		require.ErrorIs(t, err, autherrors.ErrInvalidRequest)
		require.Contains(t, err.Error(), "unknown role")
	})

	t.Run("missing id", func(t *testing.T) {
		require.ErrorIs(t, (&users.Profile{}).Validate(), autherrors.ErrInvalidRequest)
	})

	t.Run("nil profile", func(t *testing.T) {
		var p *users.Profile
		require.ErrorIs(t, p.Validate(), autherrors.ErrInvalidRequest)
	})
}

func TestProfile_CanAccess(t *testing.T) {
	analyst := &users.Profile{
		ID:   "u2",
		Role: users.RoleAnalyst,
		Permissions: []users.Permission{
			{Application: "insights", CanAccess: true},
			{Application: "forecasts", CanAccess: false},
		},
	}
	require.True(t, analyst.CanAccess("insights"))
	require.False(t, analyst.CanAccess("forecasts"))
	require.False(t, analyst.CanAccess("pricing"))

	super := &users.Profile{ID: "root", Role: users.RoleSuperAdmin}
	require.True(t, super.CanAccess("pricing"))
}

func TestProfile_WithPermissions(t *testing.T) {
	grants := []users.Permission{{Application: "insights", CanAccess: true}}

	p := users.Profile{ID: "u1", Role: users.RoleAdmin}.WithPermissions(grants)
	require.Equal(t, grants, p.Permissions)

	own := []users.Permission{{Application: "pricing", CanAccess: true}}
	p = users.Profile{ID: "u1", Permissions: own}.WithPermissions(grants)
	require.Equal(t, own, p.Permissions)
}
