package sessions

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned when no session matches a token
var ErrSessionNotFound = errors.New("session not found")

// ActiveSession is one row of the session registry
type ActiveSession struct {
	SessionToken   string    `json:"-"`
	PrincipalID    string    `json:"principal_id"`
	UserAgent      string    `json:"user_agent"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	IsActive       bool      `json:"is_active"`
}

// Stale reports whether the session has been idle for longer than threshold at now
func (s *ActiveSession) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(s.LastActivityAt) > threshold
}
