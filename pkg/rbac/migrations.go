package rbac

import "github.com/tcangola/portal/pkg/migrate"

// Migrations returns the profile and assignment schema
func Migrations() migrate.Set {
	return migrate.Set{
		Component: "rbac",
		Migrations: []migrate.Migration{
			{
				Version:     1,
				Description: "Create functional_areas and profiles tables",
				SQL: `
CREATE TABLE IF NOT EXISTS functional_areas (
	id VARCHAR(64) PRIMARY KEY,
	name VARCHAR(255) NOT NULL UNIQUE,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS profiles (
	id VARCHAR(64) PRIMARY KEY,
	name VARCHAR(255) NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	permissions JSONB NOT NULL DEFAULT '[]',
	functional_area_id VARCHAR(64) REFERENCES functional_areas(id) ON DELETE SET NULL,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`,
			},
			{
				Version:     2,
				Description: "Create profile_assignments table",
				SQL: `
CREATE TABLE IF NOT EXISTS profile_assignments (
	principal_id VARCHAR(64) NOT NULL,
	profile_id VARCHAR(64) NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	granted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	PRIMARY KEY (principal_id, profile_id)
);

CREATE INDEX IF NOT EXISTS idx_profile_assignments_profile ON profile_assignments(profile_id);
`,
			},
			{
				Version:     3,
				Description: "Create admin_roles table",
				SQL: `
CREATE TABLE IF NOT EXISTS admin_roles (
	principal_id VARCHAR(64) PRIMARY KEY,
	granted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`,
			},
		},
	}
}
