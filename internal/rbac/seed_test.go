package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapGrantsEveryCell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, Bootstrap(ctx, f.admin, " root "))
	require.NoError(t, Bootstrap(ctx, f.admin, "root"), "bootstrap is repeatable")

	for _, fn := range DefaultCatalogue.Functions() {
		sec, _ := DefaultCatalogue.SectionByID(fn.SectionID)
		assert.NoError(t, f.engine.DoIHavePermission("root", sec.Name, fn.Name), "%s/%s", sec.Name, fn.Name)
	}

	roles, err := f.admin.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, AdministratorRole, roles[0].Name)
}

func TestBootstrapRequiresUser(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, Bootstrap(context.Background(), f.admin, "  "), ErrValidation)
}
