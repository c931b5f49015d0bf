package lifecycle

import (
	"context"
	"errors"
	"fmt"
)

// Reason classifies an authentication failure
type Reason string

const (
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonEmailNotConfirmed  Reason = "email_not_confirmed"
	ReasonEmailTaken         Reason = "email_taken"
	ReasonWeakPassword       Reason = "weak_password"
	ReasonUnavailable        Reason = "unavailable"
	ReasonUnknown            Reason = "unknown"
)

// Provider errors that implement Reason() are classified by it
type reasoner interface {
	Reason() Reason
}

var messages = map[Reason]string{
	ReasonInvalidCredentials: "Email ou palavra-passe incorrectos.",
	ReasonEmailNotConfirmed:  "Confirme o seu email antes de entrar.",
	ReasonEmailTaken:         "Já existe uma conta registada com este email.",
	ReasonWeakPassword:       "A palavra-passe deve ter pelo menos 8 caracteres, com letras e números.",
	ReasonUnavailable:        "Serviço temporariamente indisponível. Tente novamente dentro de momentos.",
	ReasonUnknown:            "Ocorreu um erro inesperado. Tente novamente.",
}

// AuthError is the outcome of a failed auth operation
type AuthError struct {
	Op     string
	Reason Reason
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Message is the text shown to the user
func (e *AuthError) Message() string {
	if msg, ok := messages[e.Reason]; ok {
		return msg
	}
	return messages[ReasonUnknown]
}

func newAuthError(op string, err error) *AuthError {
	return &AuthError{Op: op, Reason: Classify(err), Err: err}
}

// Classify maps a provider error to a Reason
func Classify(err error) Reason {
	var r reasoner
	switch {
	case err == nil:
		return ""
	case errors.As(err, &r):
		return r.Reason()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonUnavailable
	default:
		return ReasonUnknown
	}
}
