package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// DBSink writes auth events to PostgreSQL
type DBSink struct {
	db *sql.DB
}

// NewDBSink creates a database sink, creating the auth_events table if needed
func NewDBSink(db *sql.DB) (*DBSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	sink := &DBSink{db: db}
	if err := sink.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure auth_events table: %w", err)
	}

	return sink, nil
}

func (s *DBSink) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS auth_events (
		id VARCHAR(26) PRIMARY KEY,
		event_kind VARCHAR(32) NOT NULL,
		success BOOLEAN NOT NULL,
		principal_id VARCHAR(64),
		email VARCHAR(320),
		user_agent TEXT NOT NULL DEFAULT '',
		client_metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_auth_events_created_at ON auth_events(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_auth_events_principal ON auth_events(principal_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_auth_events_email ON auth_events(email) WHERE email IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_auth_events_failures ON auth_events(event_kind, created_at DESC) WHERE NOT success;
	`

	_, err := s.db.Exec(query)
	return err
}

// Write inserts one event
func (s *DBSink) Write(ctx context.Context, event *AuthEvent) error {
	var metadata interface{}
	if len(event.ClientMetadata) > 0 {
		encoded, err := json.Marshal(event.ClientMetadata)
		if err != nil {
			return fmt.Errorf("failed to marshal client metadata: %w", err)
		}
		metadata = encoded
	}

	query := `
		INSERT INTO auth_events (
			id, event_kind, success, principal_id, email,
			user_agent, client_metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.Kind, event.Success, event.PrincipalID, event.Email,
		event.UserAgent, metadata, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert auth event: %w", err)
	}

	return nil
}

// Recent returns events matching filter, newest first. It serves operators and
// reporting; the portal's own flows never read events back.
func (s *DBSink) Recent(ctx context.Context, filter Filter) ([]*AuthEvent, error) {
	query := `
		SELECT id, event_kind, success, principal_id, email,
		       user_agent, client_metadata, created_at
		FROM auth_events
		WHERE 1=1
	`
	args := []interface{}{}
	argCount := 1

	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		query += fmt.Sprintf(" AND event_kind = ANY($%d)", argCount)
		args = append(args, pq.Array(kinds))
		argCount++
	}

	if filter.PrincipalID != "" {
		query += fmt.Sprintf(" AND principal_id = $%d", argCount)
		args = append(args, filter.PrincipalID)
		argCount++
	}

	if filter.Email != "" {
		query += fmt.Sprintf(" AND email = $%d", argCount)
		args = append(args, filter.Email)
		argCount++
	}

	if filter.Success != nil {
		query += fmt.Sprintf(" AND success = $%d", argCount)
		args = append(args, *filter.Success)
		argCount++
	}

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, filter.Since)
		argCount++
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argCount)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query auth events: %w", err)
	}
	defer rows.Close()

	events := make([]*AuthEvent, 0)
	for rows.Next() {
		event := &AuthEvent{}
		var principalID, email sql.NullString
		var metadataJSON []byte

		if err := rows.Scan(
			&event.ID, &event.Kind, &event.Success, &principalID, &email,
			&event.UserAgent, &metadataJSON, &event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}

		if principalID.Valid {
			event.PrincipalID = &principalID.String
		}
		if email.Valid {
			event.Email = &email.String
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.ClientMetadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal client metadata: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auth events: %w", err)
	}

	return events, nil
}
