package sessions

import "github.com/tcangola/portal/pkg/migrate"

// Migrations returns the schema owned by the session registry
func Migrations() migrate.Set {
	return migrate.Set{
		Component: "sessions",
		Migrations: []migrate.Migration{
			{
				Version:     1,
				Description: "Create active_sessions table",
				SQL: `
CREATE TABLE IF NOT EXISTS active_sessions (
	session_token VARCHAR(255) PRIMARY KEY,
	principal_id VARCHAR(64) NOT NULL,
	user_agent TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	last_activity_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_active_sessions_principal ON active_sessions(principal_id);
CREATE INDEX IF NOT EXISTS idx_active_sessions_activity ON active_sessions(last_activity_at) WHERE is_active;
`,
			},
			{
				Version:     2,
				Description: "Enforce one active session per principal",
				SQL: `
CREATE UNIQUE INDEX IF NOT EXISTS uq_active_sessions_one_per_principal
	ON active_sessions(principal_id) WHERE is_active;
`,
			},
			{
				Version:     3,
				Description: "Add session activity and cleanup functions",
				SQL: `
CREATE OR REPLACE FUNCTION update_session_activity(p_token TEXT, p_user_agent TEXT)
RETURNS VOID AS $$
BEGIN
	UPDATE active_sessions
	SET last_activity_at = NOW(),
		user_agent = COALESCE(NULLIF(p_user_agent, ''), user_agent)
	WHERE session_token = p_token AND is_active;
END;
$$ LANGUAGE plpgsql;

CREATE OR REPLACE FUNCTION cleanup_inactive_sessions(p_threshold INTERVAL)
RETURNS INTEGER AS $$
DECLARE
	affected INTEGER;
BEGIN
	UPDATE active_sessions
	SET is_active = FALSE
	WHERE is_active AND last_activity_at < NOW() - p_threshold;
	GET DIAGNOSTICS affected = ROW_COUNT;
	RETURN affected;
END;
$$ LANGUAGE plpgsql;
`,
			},
		},
	}
}
