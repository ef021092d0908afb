package rbac

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is an immutable point-in-time copy of the grant matrix and the
// user-role index. It must never be mutated after construction.
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time

	userRoles map[string][]uuid.UUID
	grants    map[Cell]bool
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		userRoles: map[string][]uuid.UUID{},
		grants:    map[Cell]bool{},
	}
}

// newSnapshot takes ownership of data; the caller must not retain it.
func newSnapshot(version uint64, data SnapshotData, loadedAt time.Time) *Snapshot {
	snap := &Snapshot{
		Version:   version,
		LoadedAt:  loadedAt,
		userRoles: make(map[string][]uuid.UUID, len(data.UserRoles)),
		grants:    data.Grants,
	}
	if snap.grants == nil {
		snap.grants = map[Cell]bool{}
	}
	for user, roles := range data.UserRoles {
		key := normalizeUserName(user)
		snap.userRoles[key] = append(snap.userRoles[key], roles...)
	}
	return snap
}

// RolesOf returns the role identifiers assigned to the user.
func (s *Snapshot) RolesOf(userName string) ([]uuid.UUID, bool) {
	roles, ok := s.userRoles[normalizeUserName(userName)]
	return roles, ok && len(roles) > 0
}

// Allows reports whether any of the user's roles grants the cell.
func (s *Snapshot) Allows(userName string, sectionID, functionID int) bool {
	roles, ok := s.RolesOf(userName)
	if !ok {
		return false
	}
	for _, roleID := range roles {
		if s.grants[Cell{RoleID: roleID, SectionID: sectionID, FunctionID: functionID}] {
			return true
		}
	}
	return false
}

// Users is the number of users with at least one role.
func (s *Snapshot) Users() int {
	return len(s.userRoles)
}

// Grants is the number of stored matrix rows.
func (s *Snapshot) Grants() int {
	return len(s.grants)
}
