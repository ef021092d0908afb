package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Store persists roles, the section/function catalogue, the grant matrix and
// user-role assignments.
type Store interface {
	// CreateRoles creates the named roles. Existing names are returned as-is.
	CreateRoles(ctx context.Context, names []string) ([]Role, error)
	// ListRoles returns all roles ordered by name.
	ListRoles(ctx context.Context) ([]Role, error)
	// AddUsersToRoles applies every assignment or none of them.
	AddUsersToRoles(ctx context.Context, assignments []UserRoleRequest) error
	// RemoveUsersFromRoles deletes assignment rows, all or none.
	RemoveUsersFromRoles(ctx context.Context, assignments []UserRoleRequest) error
	// ReplaceRolePermissions swaps the role's grant rows for the submitted set.
	ReplaceRolePermissions(ctx context.Context, roleName string, grants []GrantRequest) error
	// GetRolePermissions returns the role's full matrix including implicit denies.
	GetRolePermissions(ctx context.Context, roleName string) (RolePermissions, error)
	// GetEffectivePermissionSnapshot reads all assignments and grants at a
	// single point in time.
	GetEffectivePermissionSnapshot(ctx context.Context) (SnapshotData, error)
	// SeedCatalogue idempotently writes the section/function catalogue.
	SeedCatalogue(ctx context.Context) error
}

type resolvedGrant struct {
	SectionID  int
	FunctionID int
	HasAccess  bool
}

func normalizeRoleNames(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: at least one role name required", ErrValidation)
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: role name required", ErrValidation)
		}
		if len(name) > 100 {
			return nil, fmt.Errorf("%w: role name %q too long", ErrValidation, name)
		}
		key := normalizeName(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out, nil
}

func normalizeAssignments(assignments []UserRoleRequest) ([]UserRoleRequest, error) {
	if len(assignments) == 0 {
		return nil, fmt.Errorf("%w: at least one assignment required", ErrValidation)
	}
	out := make([]UserRoleRequest, 0, len(assignments))
	for _, a := range assignments {
		user := normalizeUserName(a.UserName)
		role := strings.TrimSpace(a.RoleName)
		if user == "" || role == "" {
			return nil, fmt.Errorf("%w: user name and role name required", ErrValidation)
		}
		out = append(out, UserRoleRequest{UserName: user, RoleName: role})
	}
	return out, nil
}

func normalizeUserName(name string) string {
	return normalizeName(name)
}

// resolveGrants maps submitted names onto the catalogue. A cell may appear at
// most once per submission.
func resolveGrants(cat *Catalogue, grants []GrantRequest) ([]resolvedGrant, error) {
	out := make([]resolvedGrant, 0, len(grants))
	seen := make(map[[2]int]struct{}, len(grants))
	for _, g := range grants {
		sec, fn, err := cat.Lookup(g.SectionName, g.FunctionName)
		if err != nil {
			return nil, err
		}
		key := [2]int{sec.ID, fn.ID}
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: %s/%s submitted twice", ErrValidation, sec.Name, fn.Name)
		}
		seen[key] = struct{}{}
		out = append(out, resolvedGrant{SectionID: sec.ID, FunctionID: fn.ID, HasAccess: g.HasAccess})
	}
	return out, nil
}

// buildRolePermissions expands stored rows into one grant per catalogued cell.
func buildRolePermissions(cat *Catalogue, role Role, stored map[[2]int]bool) RolePermissions {
	functions := cat.Functions()
	grants := make([]Grant, 0, len(functions))
	for _, fn := range functions {
		sec, _ := cat.SectionByID(fn.SectionID)
		grants = append(grants, Grant{
			SectionID:    sec.ID,
			SectionName:  sec.Name,
			FunctionID:   fn.ID,
			FunctionName: fn.Name,
			HasAccess:    stored[[2]int{sec.ID, fn.ID}],
		})
	}
	return RolePermissions{
		Role:      role,
		Sections:  cat.Sections(),
		Functions: functions,
		Grants:    grants,
	}
}

func newRoleID() uuid.UUID {
	return uuid.New()
}
