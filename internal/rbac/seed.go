package rbac

import (
	"context"
	"fmt"
	"strings"
)

// AdministratorRole is the role created by Bootstrap.
const AdministratorRole = "Administrator"

// BootstrapAdmin is the administration surface Bootstrap drives.
type BootstrapAdmin interface {
	PermissionAdmin
	GetRolePermissions(ctx context.Context, roleName string) (RolePermissions, error)
}

// Bootstrap creates the Administrator role, grants it every catalogued cell
// and assigns it to adminUser. It follows the administrative read-modify-write
// shape: fetch the full matrix, flip every cell, submit it whole. Running it
// again is harmless.
func Bootstrap(ctx context.Context, admin BootstrapAdmin, adminUser string) error {
	adminUser = strings.TrimSpace(adminUser)
	if adminUser == "" {
		return fmt.Errorf("%w: bootstrap user required", ErrValidation)
	}
	if _, err := admin.CreateRoles(ctx, []string{AdministratorRole}); err != nil {
		return fmt.Errorf("bootstrap: create role: %w", err)
	}
	current, err := admin.GetRolePermissions(ctx, AdministratorRole)
	if err != nil {
		return fmt.Errorf("bootstrap: read grants: %w", err)
	}
	grants := make([]GrantRequest, 0, len(current.Grants))
	for _, g := range current.Grants {
		grants = append(grants, GrantRequest{SectionName: g.SectionName, FunctionName: g.FunctionName, HasAccess: true})
	}
	if err := admin.ReplaceRolePermissions(ctx, AdministratorRole, grants); err != nil {
		return fmt.Errorf("bootstrap: grant: %w", err)
	}
	if err := admin.AddUsersToRoles(ctx, []UserRoleRequest{{UserName: adminUser, RoleName: AdministratorRole}}); err != nil {
		return fmt.Errorf("bootstrap: assign: %w", err)
	}
	return nil
}
