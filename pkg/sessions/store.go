package sessions

import (
	"context"
	"time"
)

// Store persists active sessions
type Store interface {
	// Register deactivates every other active session of principalID and
	// activates token, inserting it when absent. Both steps are atomic.
	Register(ctx context.Context, principalID, token, userAgent string) error

	// Touch bumps last_activity_at of an active session. Absent or inactive
	// tokens are ignored.
	Touch(ctx context.Context, token, userAgent string) error

	// End deactivates a session. Absent or inactive tokens are ignored.
	End(ctx context.Context, token string) (bool, error)

	// Cleanup deactivates sessions idle for longer than threshold and returns how many
	Cleanup(ctx context.Context, threshold time.Duration) (int64, error)

	Get(ctx context.Context, token string) (*ActiveSession, error)
	ListActive(ctx context.Context, principalID string) ([]*ActiveSession, error)
	IsActive(ctx context.Context, token string) (bool, error)
}
