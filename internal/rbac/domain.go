package rbac

import (
	"time"

	"github.com/google/uuid"
)

// Role is a named grouping of grants. A new role grants nothing.
type Role struct {
	ID        uuid.UUID `json:"roleId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// ApplicationSection is an area of the application, e.g. "Merchant".
type ApplicationSection struct {
	ID   int    `json:"sectionId"`
	Name string `json:"name"`
}

// Function is an action within a section, e.g. "Edit".
type Function struct {
	ID        int    `json:"functionId"`
	SectionID int    `json:"sectionId"`
	Name      string `json:"name"`
}

// RolePermission is a single cell of the grant matrix.
type RolePermission struct {
	RoleID     uuid.UUID `json:"roleId"`
	SectionID  int       `json:"sectionId"`
	FunctionID int       `json:"functionId"`
	HasAccess  bool      `json:"hasAccess"`
}

// UserRoleAssignment links a user to a role.
type UserRoleAssignment struct {
	UserName string
	RoleID   uuid.UUID
}

// UserRoleRequest names a user and a role by name.
type UserRoleRequest struct {
	UserName string `json:"userName" validate:"required,max=256"`
	RoleName string `json:"roleName" validate:"required,max=100"`
}

// GrantRequest is one submitted cell of a role's permission set.
type GrantRequest struct {
	SectionName  string `json:"sectionName"`
	FunctionName string `json:"functionName"`
	HasAccess    bool   `json:"hasAccess"`
}

// Grant is a resolved matrix cell as returned to administrative callers.
type Grant struct {
	SectionID    int    `json:"sectionId"`
	SectionName  string `json:"sectionName"`
	FunctionID   int    `json:"functionId"`
	FunctionName string `json:"functionName"`
	HasAccess    bool   `json:"hasAccess"`
}

// RolePermissions is the full matrix for a single role: every catalogued cell
// is present, with implicit denies for cells that have no stored row.
type RolePermissions struct {
	Role      Role                 `json:"role"`
	Sections  []ApplicationSection `json:"sections"`
	Functions []Function           `json:"functions"`
	Grants    []Grant              `json:"grants"`
}

// Cell identifies a (role, section, function) matrix entry.
type Cell struct {
	RoleID     uuid.UUID
	SectionID  int
	FunctionID int
}

// SnapshotData is the bulk read the cache builds snapshots from.
type SnapshotData struct {
	UserRoles map[string][]uuid.UUID
	Grants    map[Cell]bool
}

func newSnapshotData() SnapshotData {
	return SnapshotData{
		UserRoles: make(map[string][]uuid.UUID),
		Grants:    make(map[Cell]bool),
	}
}

// AddAssignment records a user-role row.
func (d SnapshotData) AddAssignment(a UserRoleAssignment) {
	d.UserRoles[a.UserName] = append(d.UserRoles[a.UserName], a.RoleID)
}

// AddPermission records a grant matrix row.
func (d SnapshotData) AddPermission(p RolePermission) {
	d.Grants[Cell{RoleID: p.RoleID, SectionID: p.SectionID, FunctionID: p.FunctionID}] = p.HasAccess
}
