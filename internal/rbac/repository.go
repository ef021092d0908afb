package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/estate-admin/backoffice/internal/platform/db"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool      *pgxpool.Pool
	catalogue *Catalogue
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore constructs a store over the pool.
func NewPostgresStore(pool *pgxpool.Pool, cat *Catalogue) *PostgresStore {
	return &PostgresStore{pool: pool, catalogue: cat}
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Migrate applies pending schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createMigrationsTable); err != nil {
		return storeError("migrate", err)
	}
	for _, m := range GetMigrations() {
		err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
			var applied bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rbac_schema_migrations WHERE version = $1)`, m.Version).Scan(&applied); err != nil {
				return err
			}
			if applied {
				return nil
			}
			for _, stmt := range m.Statements {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d: %w", m.Version, err)
				}
			}
			_, err := tx.Exec(ctx, `INSERT INTO rbac_schema_migrations (version, description) VALUES ($1, $2) ON CONFLICT DO NOTHING`, m.Version, m.Description)
			return err
		})
		if err != nil {
			return storeError("migrate", err)
		}
	}
	return nil
}

// SeedCatalogue upserts every section and function of the catalogue.
func (s *PostgresStore) SeedCatalogue(ctx context.Context) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, sec := range s.catalogue.Sections() {
			if _, err := tx.Exec(ctx, `
				INSERT INTO application_sections (id, name) VALUES ($1, $2)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, sec.ID, sec.Name); err != nil {
				return err
			}
		}
		for _, fn := range s.catalogue.Functions() {
			if _, err := tx.Exec(ctx, `
				INSERT INTO functions (id, application_section_id, name) VALUES ($1, $2, $3)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, fn.ID, fn.SectionID, fn.Name); err != nil {
				return err
			}
		}
		return nil
	})
	return storeError("seed catalogue", err)
}

// CreateRoles inserts missing roles and returns all requested rows.
func (s *PostgresStore) CreateRoles(ctx context.Context, names []string) ([]Role, error) {
	names, err := normalizeRoleNames(names)
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(names))
	err = db.WithTxOptions(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		for _, name := range names {
			if _, err := tx.Exec(ctx, `
				INSERT INTO roles (id, name, created_at) VALUES ($1, $2, $3)
				ON CONFLICT ((LOWER(name))) DO NOTHING`, newRoleID(), name, time.Now().UTC()); err != nil {
				return err
			}
			role, err := findRole(ctx, tx, name, false)
			if err != nil {
				return err
			}
			roles = append(roles, role)
		}
		return nil
	})
	if err != nil {
		return nil, storeError("create roles", err)
	}
	return roles, nil
}

// ListRoles returns all roles ordered by name.
func (s *PostgresStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, storeError("list roles", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt); err != nil {
			return nil, storeError("list roles", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list roles", err)
	}
	return roles, nil
}

// AddUsersToRoles inserts the assignments in one transaction.
func (s *PostgresStore) AddUsersToRoles(ctx context.Context, assignments []UserRoleRequest) error {
	assignments, err := normalizeAssignments(assignments)
	if err != nil {
		return err
	}
	err = db.WithTxOptions(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		for _, a := range assignments {
			role, err := findRole(ctx, tx, a.RoleName, false)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO user_roles (user_name, role_id) VALUES ($1, $2)
				ON CONFLICT (user_name, role_id) DO NOTHING`, a.UserName, role.ID); err != nil {
				return err
			}
		}
		return nil
	})
	return storeError("add users to roles", err)
}

// RemoveUsersFromRoles deletes the assignments in one transaction.
func (s *PostgresStore) RemoveUsersFromRoles(ctx context.Context, assignments []UserRoleRequest) error {
	assignments, err := normalizeAssignments(assignments)
	if err != nil {
		return err
	}
	err = db.WithTxOptions(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		for _, a := range assignments {
			role, err := findRole(ctx, tx, a.RoleName, false)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_name = $1 AND role_id = $2`, a.UserName, role.ID); err != nil {
				return err
			}
		}
		return nil
	})
	return storeError("remove users from roles", err)
}

// ReplaceRolePermissions locks the role row, deletes its grants and copies in
// the submitted set.
func (s *PostgresStore) ReplaceRolePermissions(ctx context.Context, roleName string, grants []GrantRequest) error {
	err := db.WithTxOptions(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		role, err := findRole(ctx, tx, roleName, true)
		if err != nil {
			return err
		}
		resolved, err := resolveGrants(s.catalogue, grants)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, role.ID); err != nil {
			return err
		}
		if len(resolved) == 0 {
			return nil
		}
		rows := make([][]any, 0, len(resolved))
		for _, g := range resolved {
			rows = append(rows, []any{role.ID, g.SectionID, g.FunctionID, g.HasAccess})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"role_permissions"},
			[]string{"role_id", "application_section_id", "function_id", "has_access"},
			pgx.CopyFromRows(rows),
		)
		return err
	})
	return storeError("replace role permissions", err)
}

// GetRolePermissions reads the role and its rows in one snapshot.
func (s *PostgresStore) GetRolePermissions(ctx context.Context, roleName string) (RolePermissions, error) {
	var out RolePermissions
	err := db.WithTxOptions(ctx, s.pool, db.ReadOnlySnapshot, func(tx pgx.Tx) error {
		role, err := findRole(ctx, tx, roleName, false)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `
			SELECT application_section_id, function_id, has_access
			FROM role_permissions WHERE role_id = $1`, role.ID)
		if err != nil {
			return err
		}
		defer rows.Close()
		stored := make(map[[2]int]bool)
		for rows.Next() {
			var sectionID, functionID int
			var hasAccess bool
			if err := rows.Scan(&sectionID, &functionID, &hasAccess); err != nil {
				return err
			}
			stored[[2]int{sectionID, functionID}] = hasAccess
		}
		if err := rows.Err(); err != nil {
			return err
		}
		out = buildRolePermissions(s.catalogue, role, stored)
		return nil
	})
	if err != nil {
		return RolePermissions{}, storeError("get role permissions", err)
	}
	return out, nil
}

// GetEffectivePermissionSnapshot reads assignments and grants inside one
// repeatable-read transaction.
func (s *PostgresStore) GetEffectivePermissionSnapshot(ctx context.Context) (SnapshotData, error) {
	data := newSnapshotData()
	err := db.WithTxOptions(ctx, s.pool, db.ReadOnlySnapshot, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT user_name, role_id FROM user_roles`)
		if err != nil {
			return err
		}
		for rows.Next() {
			var a UserRoleAssignment
			if err := rows.Scan(&a.UserName, &a.RoleID); err != nil {
				rows.Close()
				return err
			}
			data.AddAssignment(a)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		rows, err = tx.Query(ctx, `SELECT role_id, application_section_id, function_id, has_access FROM role_permissions`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var perm RolePermission
			if err := rows.Scan(&perm.RoleID, &perm.SectionID, &perm.FunctionID, &perm.HasAccess); err != nil {
				return err
			}
			data.AddPermission(perm)
		}
		return rows.Err()
	})
	if err != nil {
		return SnapshotData{}, storeError("snapshot", err)
	}
	return data, nil
}

func findRole(ctx context.Context, q dbtx, name string, forUpdate bool) (Role, error) {
	query := `SELECT id, name, created_at FROM roles WHERE LOWER(name) = LOWER($1)`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var role Role
	err := q.QueryRow(ctx, query, name).Scan(&role.ID, &role.Name, &role.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, fmt.Errorf("%w: %q", ErrRoleNotFound, name)
	}
	return role, err
}

// storeError keeps domain errors intact, maps constraint violations onto them
// and marks everything else as ErrStoreUnavailable.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, domain := range []error{ErrRoleNotFound, ErrSectionNotFound, ErrFunctionNotFound, ErrValidation} {
		if errors.Is(err, domain) {
			return err
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			if pgErr.TableName == "user_roles" {
				return fmt.Errorf("%w: %s", ErrRoleNotFound, pgErr.Detail)
			}
			return fmt.Errorf("%w: %s", ErrFunctionNotFound, pgErr.Detail)
		case "23505":
			return fmt.Errorf("%w: %s", ErrValidation, pgErr.Detail)
		}
	}
	return fmt.Errorf("rbac: %s: %w: %w", op, ErrStoreUnavailable, err)
}
