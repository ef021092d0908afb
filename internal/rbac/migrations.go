package rbac

// Migration is a versioned schema change.
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS rbac_schema_migrations (
		version INT PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// GetMigrations returns the permission schema migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create roles table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS roles (
					id UUID PRIMARY KEY,
					name VARCHAR(100) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_name_lower ON roles (LOWER(name))`,
			},
		},
		{
			Version:     2,
			Description: "Create section and function catalogue",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS application_sections (
					id INT PRIMARY KEY,
					name VARCHAR(100) NOT NULL UNIQUE
				)`,
				`CREATE TABLE IF NOT EXISTS functions (
					id INT PRIMARY KEY,
					application_section_id INT NOT NULL REFERENCES application_sections(id),
					name VARCHAR(100) NOT NULL,
					UNIQUE (application_section_id, name),
					UNIQUE (application_section_id, id)
				)`,
			},
		},
		{
			Version:     3,
			Description: "Create role_permissions table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS role_permissions (
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					application_section_id INT NOT NULL,
					function_id INT NOT NULL,
					has_access BOOLEAN NOT NULL,
					PRIMARY KEY (role_id, application_section_id, function_id),
					FOREIGN KEY (application_section_id, function_id)
						REFERENCES functions(application_section_id, id)
				)`,
			},
		},
		{
			Version:     4,
			Description: "Create user_roles table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS user_roles (
					user_name VARCHAR(256) NOT NULL,
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_name, role_id)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id)`,
			},
		},
	}
}
