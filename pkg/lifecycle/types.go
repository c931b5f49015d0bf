package lifecycle

import (
	"context"
	"time"
)

// Event names a provider state transition
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Principal is the authenticated identity as the provider reports it
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// Session is a provider session
type Session struct {
	AccessToken  string    `json:"access_token"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Principal    Principal `json:"principal"`
}

// Transition is delivered to subscribers on every state change.
// Session is the new session; it is nil for EventSignedOut, where Previous
// holds the session that ended.
type Transition struct {
	Event    Event
	Session  *Session
	Previous *Session
}

// Provider is the authentication backend the orchestrator observes.
// Subscribers are notified synchronously, in order, on the goroutine that
// caused the transition.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password, displayName string) (*Principal, error)
	SignOut(ctx context.Context) error
	CurrentSession(ctx context.Context) (*Session, error)
	RefreshSession(ctx context.Context) (*Session, error)
	RequestPasswordReset(ctx context.Context, email string) error
	Subscribe(handler func(Transition)) (unsubscribe func())
}

// Status is the orchestrator's view of the auth state
type Status string

const (
	StatusSignedOut Status = "signed_out"
	StatusSignedIn  Status = "signed_in"
)

// State is what observers of the orchestrator see
type State struct {
	Status  Status
	Session *Session
}

// PrincipalID returns the signed-in principal, or ""
func (s State) PrincipalID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.Principal.ID
}
