package rbac

import "errors"

var (
	// ErrAccessDenied is the normal negative answer of a permission check.
	ErrAccessDenied = errors.New("rbac: access denied")
	// ErrRoleNotFound indicates a referenced role does not exist.
	ErrRoleNotFound = errors.New("rbac: role not found")
	// ErrSectionNotFound indicates a submitted section is not catalogued.
	ErrSectionNotFound = errors.New("rbac: section not found")
	// ErrFunctionNotFound indicates a submitted function is not catalogued for its section.
	ErrFunctionNotFound = errors.New("rbac: function not found")
	// ErrInvalidSectionOrFunction is raised when a caller checks an out-of-catalogue
	// cell. It is a programming error, not a denial.
	ErrInvalidSectionOrFunction = errors.New("rbac: invalid section or function")
	// ErrStoreUnavailable wraps transient persistence failures.
	ErrStoreUnavailable = errors.New("rbac: store unavailable")
	// ErrValidation indicates malformed administrative input.
	ErrValidation = errors.New("rbac: validation failed")
)
