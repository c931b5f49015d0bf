package audit

import "time"

// EventKind identifies what happened
type EventKind string

const (
	KindLogin          EventKind = "login"
	KindLogout         EventKind = "logout"
	KindSignup         EventKind = "signup"
	KindPasswordReset  EventKind = "password_reset"
	KindSessionRefresh EventKind = "session_refresh"
)

// AllKinds lists every event kind the log accepts
func AllKinds() []EventKind {
	return []EventKind{KindLogin, KindLogout, KindSignup, KindPasswordReset, KindSessionRefresh}
}

// Valid reports whether k is one of the known kinds
func (k EventKind) Valid() bool {
	switch k {
	case KindLogin, KindLogout, KindSignup, KindPasswordReset, KindSessionRefresh:
		return true
	}
	return false
}

// AuthEvent is a stored auth_events row
type AuthEvent struct {
	ID             string                 `json:"id"`
	Kind           EventKind              `json:"event_kind"`
	Success        bool                   `json:"success"`
	PrincipalID    *string                `json:"principal_id,omitempty"`
	Email          *string                `json:"email,omitempty"`
	UserAgent      string                 `json:"user_agent"`
	ClientMetadata map[string]interface{} `json:"client_metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Entry is what callers hand to a Recorder. Empty PrincipalID and Email are
// stored as NULL.
type Entry struct {
	Kind        EventKind
	Success     bool
	PrincipalID string
	Email       string
	UserAgent   string
	Details     map[string]interface{}
}

// Filter narrows a Recent query
type Filter struct {
	Kinds       []EventKind
	PrincipalID string
	Email       string
	Success     *bool
	Since       time.Time
	Limit       int
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
