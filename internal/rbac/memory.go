package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store used for local runs and tests. It
// enforces the same invariants as PostgresStore.
type MemoryStore struct {
	catalogue *Catalogue

	mu          sync.RWMutex
	seeded      bool
	roles       map[string]Role
	rolesByID   map[uuid.UUID]Role
	assignments map[string]map[uuid.UUID]struct{}
	grants      map[uuid.UUID]map[[2]int]bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds an empty store over the catalogue.
func NewMemoryStore(cat *Catalogue) *MemoryStore {
	return &MemoryStore{
		catalogue:   cat,
		roles:       make(map[string]Role),
		rolesByID:   make(map[uuid.UUID]Role),
		assignments: make(map[string]map[uuid.UUID]struct{}),
		grants:      make(map[uuid.UUID]map[[2]int]bool),
	}
}

// SeedCatalogue marks the catalogue as present.
func (s *MemoryStore) SeedCatalogue(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.seeded = true
	s.mu.Unlock()
	return nil
}

// CreateRoles creates missing roles and returns all requested roles.
func (s *MemoryStore) CreateRoles(ctx context.Context, names []string) ([]Role, error) {
	names, err := normalizeRoleNames(names)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Role, 0, len(names))
	for _, name := range names {
		key := normalizeName(name)
		role, ok := s.roles[key]
		if !ok {
			role = Role{ID: newRoleID(), Name: name, CreatedAt: time.Now().UTC()}
			s.roles[key] = role
			s.rolesByID[role.ID] = role
		}
		out = append(out, role)
	}
	return out, nil
}

// ListRoles returns all roles ordered by name.
func (s *MemoryStore) ListRoles(ctx context.Context) ([]Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Role, 0, len(s.roles))
	for _, role := range s.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AddUsersToRoles validates the whole batch before applying it.
func (s *MemoryStore) AddUsersToRoles(ctx context.Context, assignments []UserRoleRequest) error {
	assignments, err := normalizeAssignments(assignments)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	resolved, err := s.resolveRolesLocked(assignments)
	if err != nil {
		return err
	}
	for i, a := range assignments {
		set, ok := s.assignments[a.UserName]
		if !ok {
			set = make(map[uuid.UUID]struct{})
			s.assignments[a.UserName] = set
		}
		set[resolved[i]] = struct{}{}
	}
	return nil
}

// RemoveUsersFromRoles deletes the assignment rows of the batch.
func (s *MemoryStore) RemoveUsersFromRoles(ctx context.Context, assignments []UserRoleRequest) error {
	assignments, err := normalizeAssignments(assignments)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	resolved, err := s.resolveRolesLocked(assignments)
	if err != nil {
		return err
	}
	for i, a := range assignments {
		set, ok := s.assignments[a.UserName]
		if !ok {
			continue
		}
		delete(set, resolved[i])
		if len(set) == 0 {
			delete(s.assignments, a.UserName)
		}
	}
	return nil
}

// ReplaceRolePermissions swaps the role's rows under a single write lock.
func (s *MemoryStore) ReplaceRolePermissions(ctx context.Context, roleName string, grants []GrantRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[normalizeName(roleName)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrRoleNotFound, roleName)
	}
	resolved, err := resolveGrants(s.catalogue, grants)
	if err != nil {
		return err
	}
	if !s.seeded && len(resolved) > 0 {
		return fmt.Errorf("%w: catalogue not seeded", ErrSectionNotFound)
	}
	rows := make(map[[2]int]bool, len(resolved))
	for _, g := range resolved {
		rows[[2]int{g.SectionID, g.FunctionID}] = g.HasAccess
	}
	s.grants[role.ID] = rows
	return nil
}

// GetRolePermissions returns the role's full matrix.
func (s *MemoryStore) GetRolePermissions(ctx context.Context, roleName string) (RolePermissions, error) {
	if err := ctx.Err(); err != nil {
		return RolePermissions{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[normalizeName(roleName)]
	if !ok {
		return RolePermissions{}, fmt.Errorf("%w: %q", ErrRoleNotFound, roleName)
	}
	return buildRolePermissions(s.catalogue, role, s.grants[role.ID]), nil
}

// GetEffectivePermissionSnapshot copies assignments and grants under one read lock.
func (s *MemoryStore) GetEffectivePermissionSnapshot(ctx context.Context) (SnapshotData, error) {
	if err := ctx.Err(); err != nil {
		return SnapshotData{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := newSnapshotData()
	for user, set := range s.assignments {
		for id := range set {
			data.AddAssignment(UserRoleAssignment{UserName: user, RoleID: id})
		}
	}
	for roleID, rows := range s.grants {
		for key, hasAccess := range rows {
			data.AddPermission(RolePermission{RoleID: roleID, SectionID: key[0], FunctionID: key[1], HasAccess: hasAccess})
		}
	}
	return data, nil
}

func (s *MemoryStore) resolveRolesLocked(assignments []UserRoleRequest) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(assignments))
	for i, a := range assignments {
		role, ok := s.roles[normalizeName(a.RoleName)]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrRoleNotFound, a.RoleName)
		}
		ids[i] = role.ID
	}
	return ids, nil
}
