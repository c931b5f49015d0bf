package identity

import "github.com/tcangola/portal/pkg/lifecycle"

// Error is a provider failure with a lifecycle classification
type Error struct {
	reason lifecycle.Reason
	msg    string
}

func (e *Error) Error() string {
	return e.msg
}

// Reason classifies the error for the orchestrator
func (e *Error) Reason() lifecycle.Reason {
	return e.reason
}

var (
	ErrInvalidCredentials = &Error{lifecycle.ReasonInvalidCredentials, "invalid login credentials"}
	ErrEmailNotConfirmed  = &Error{lifecycle.ReasonEmailNotConfirmed, "email not confirmed"}
	ErrEmailTaken         = &Error{lifecycle.ReasonEmailTaken, "email already registered"}
	ErrWeakPassword       = &Error{lifecycle.ReasonWeakPassword, "password does not meet requirements"}
	ErrInvalidEmail       = &Error{lifecycle.ReasonUnknown, "invalid email address"}
	ErrSessionNotFound    = &Error{lifecycle.ReasonUnknown, "no current session"}
	ErrSessionExpired     = &Error{lifecycle.ReasonInvalidCredentials, "session expired"}
	ErrUserNotFound       = &Error{lifecycle.ReasonUnknown, "user not found"}
	ErrInvalidResetToken  = &Error{lifecycle.ReasonInvalidCredentials, "invalid or expired reset token"}
	ErrUnavailable        = &Error{lifecycle.ReasonUnavailable, "identity store unavailable"}
)
