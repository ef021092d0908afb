package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

// PermissionAdmin mutates roles, assignments and the grant matrix. Every
// successful write is visible to DoIHavePermission when the call returns.
type PermissionAdmin interface {
	CreateRoles(ctx context.Context, names []string) ([]Role, error)
	AddUsersToRoles(ctx context.Context, assignments []UserRoleRequest) error
	ReplaceRolePermissions(ctx context.Context, roleName string, grants []GrantRequest) error
}

// Invalidator refreshes a cache and waits for the result.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Publisher notifies other instances that permissions changed.
type Publisher interface {
	Publish(ctx context.Context) error
}

// AdminConfig carries optional collaborators of Admin.
type AdminConfig struct {
	StoreTimeout time.Duration
	Publisher    Publisher
	Logger       *slog.Logger
}

// Admin implements PermissionAdmin over a Store and the local cache.
type Admin struct {
	store     Store
	cache     Invalidator
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration
	validate  *validator.Validate
}

var _ PermissionAdmin = (*Admin)(nil)

// NewAdmin constructs an Admin.
func NewAdmin(store Store, cache Invalidator, cfg AdminConfig) *Admin {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Admin{
		store:     store,
		cache:     cache,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		timeout:   cfg.StoreTimeout,
		validate:  validator.New(),
	}
}

// CreateRoles creates roles idempotently.
func (a *Admin) CreateRoles(ctx context.Context, names []string) ([]Role, error) {
	for _, name := range names {
		if err := a.validate.Var(name, "required,max=100"); err != nil {
			return nil, fmt.Errorf("%w: role name %q: %v", ErrValidation, name, err)
		}
	}
	var roles []Role
	err := a.write(ctx, "create roles", func(ctx context.Context) error {
		var err error
		roles, err = a.store.CreateRoles(ctx, names)
		return err
	})
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// AddUsersToRoles assigns users to roles, all or nothing.
func (a *Admin) AddUsersToRoles(ctx context.Context, assignments []UserRoleRequest) error {
	if err := a.validateAssignments(assignments); err != nil {
		return err
	}
	return a.write(ctx, "add users to roles", func(ctx context.Context) error {
		return a.store.AddUsersToRoles(ctx, assignments)
	})
}

// RemoveUsersFromRoles revokes assignments, all or nothing.
func (a *Admin) RemoveUsersFromRoles(ctx context.Context, assignments []UserRoleRequest) error {
	if err := a.validateAssignments(assignments); err != nil {
		return err
	}
	return a.write(ctx, "remove users from roles", func(ctx context.Context) error {
		return a.store.RemoveUsersFromRoles(ctx, assignments)
	})
}

// ReplaceRolePermissions replaces the role's whole grant set.
func (a *Admin) ReplaceRolePermissions(ctx context.Context, roleName string, grants []GrantRequest) error {
	if err := a.validate.Var(roleName, "required,max=100"); err != nil {
		return fmt.Errorf("%w: role name: %v", ErrValidation, err)
	}
	return a.write(ctx, "replace role permissions", func(ctx context.Context) error {
		return a.store.ReplaceRolePermissions(ctx, roleName, grants)
	})
}

// GetRolePermissions returns the role's full matrix.
func (a *Admin) GetRolePermissions(ctx context.Context, roleName string) (RolePermissions, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.store.GetRolePermissions(ctx, roleName)
}

// ListRoles returns all roles.
func (a *Admin) ListRoles(ctx context.Context) ([]Role, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.store.ListRoles(ctx)
}

func (a *Admin) validateAssignments(assignments []UserRoleRequest) error {
	if len(assignments) == 0 {
		return fmt.Errorf("%w: at least one assignment required", ErrValidation)
	}
	for i := range assignments {
		if err := a.validate.Struct(assignments[i]); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				return fmt.Errorf("%w: assignment %d: %s failed %q", ErrValidation, i, verrs[0].Field(), verrs[0].Tag())
			}
			return fmt.Errorf("%w: assignment %d: %v", ErrValidation, i, err)
		}
	}
	return nil
}

// write runs fn with the store timeout, then refreshes the local cache and
// notifies peers. The refresh is awaited so the caller's next check observes
// the change.
func (a *Admin) write(ctx context.Context, op string, fn func(context.Context) error) error {
	writeCtx, cancel := context.WithTimeout(ctx, a.timeout)
	err := fn(writeCtx)
	cancel()
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			a.logger.Error("rbac write failed", slog.String("op", op), slog.Any("error", err))
		}
		return err
	}
	if err := a.cache.Invalidate(ctx); err != nil {
		a.logger.Error("rbac refresh after write failed", slog.String("op", op), slog.Any("error", err))
		return fmt.Errorf("rbac: %s saved but not yet visible: %w", op, err)
	}
	if a.publisher != nil {
		if err := a.publisher.Publish(ctx); err != nil {
			a.logger.Warn("rbac publish invalidation", slog.String("op", op), slog.Any("error", err))
		}
	}
	a.logger.Info("rbac write applied", slog.String("op", op))
	return nil
}
