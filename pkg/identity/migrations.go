package identity

import "github.com/tcangola/portal/pkg/migrate"

// Migrations returns the schema owned by the identity provider
func Migrations() migrate.Set {
	return migrate.Set{
		Component: "identity",
		Migrations: []migrate.Migration{
			{
				Version:     1,
				Description: "Create users table",
				SQL: `
CREATE TABLE IF NOT EXISTS users (
	id VARCHAR(64) PRIMARY KEY,
	email VARCHAR(320) NOT NULL UNIQUE,
	display_name VARCHAR(255) NOT NULL DEFAULT '',
	password_hash VARCHAR(255) NOT NULL,
	email_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`,
			},
		},
	}
}
