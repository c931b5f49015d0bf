package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = "session_token, principal_id, user_agent, started_at, last_activity_at, is_active"

// maxListedSessions caps ListActive when no principal is given
const maxListedSessions = 500

// DBStore is a PostgreSQL session store. The schema comes from Migrations.
type DBStore struct {
	db *sql.DB
}

// NewDBStore creates a PostgreSQL-backed store
func NewDBStore(db *sql.DB) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBStore{db: db}, nil
}

// Register implements Store. Registrations for one principal are serialized
// by a transaction-scoped advisory lock.
func (s *DBStore) Register(ctx context.Context, principalID, token, userAgent string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", principalID); err != nil {
		return fmt.Errorf("failed to lock principal sessions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE active_sessions
		SET is_active = FALSE
		WHERE principal_id = $1 AND is_active AND session_token <> $2
	`, principalID, token); err != nil {
		return fmt.Errorf("failed to deactivate previous sessions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO active_sessions (session_token, principal_id, user_agent, started_at, last_activity_at, is_active)
		VALUES ($1, $2, $3, NOW(), NOW(), TRUE)
		ON CONFLICT (session_token) DO UPDATE SET
			principal_id = EXCLUDED.principal_id,
			user_agent = EXCLUDED.user_agent,
			last_activity_at = NOW(),
			is_active = TRUE
	`, token, principalID, userAgent); err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session registration: %w", err)
	}
	return nil
}

// Touch implements Store
func (s *DBStore) Touch(ctx context.Context, token, userAgent string) error {
	if _, err := s.db.ExecContext(ctx, "SELECT update_session_activity($1, $2)", token, userAgent); err != nil {
		return fmt.Errorf("failed to update session activity: %w", err)
	}
	return nil
}

// End implements Store
func (s *DBStore) End(ctx context.Context, token string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE active_sessions SET is_active = FALSE WHERE session_token = $1 AND is_active",
		token,
	)
	if err != nil {
		return false, fmt.Errorf("failed to end session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// Cleanup implements Store
func (s *DBStore) Cleanup(ctx context.Context, threshold time.Duration) (int64, error) {
	var affected int64
	err := s.db.QueryRowContext(ctx,
		"SELECT cleanup_inactive_sessions(make_interval(secs => $1))",
		threshold.Seconds(),
	).Scan(&affected)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up inactive sessions: %w", err)
	}
	return affected, nil
}

// Get implements Store
func (s *DBStore) Get(ctx context.Context, token string) (*ActiveSession, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM active_sessions WHERE session_token = $1",
		token,
	)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// ListActive implements Store. An empty principalID lists every active session.
func (s *DBStore) ListActive(ctx context.Context, principalID string) ([]*ActiveSession, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if principalID == "" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+sessionColumns+" FROM active_sessions WHERE is_active ORDER BY last_activity_at DESC LIMIT $1",
			maxListedSessions,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+sessionColumns+" FROM active_sessions WHERE principal_id = $1 AND is_active ORDER BY last_activity_at DESC",
			principalID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*ActiveSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// IsActive implements Store
func (s *DBStore) IsActive(ctx context.Context, token string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM active_sessions WHERE session_token = $1 AND is_active)",
		token,
	).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return active, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*ActiveSession, error) {
	var session ActiveSession
	err := row.Scan(
		&session.SessionToken,
		&session.PrincipalID,
		&session.UserAgent,
		&session.StartedAt,
		&session.LastActivityAt,
		&session.IsActive,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}
