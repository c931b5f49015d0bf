package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/contextkeys"
	"github.com/tcangola/portal/pkg/httputil"
	"github.com/tcangola/portal/pkg/identity"
	"github.com/tcangola/portal/pkg/observability"
	"github.com/tcangola/portal/pkg/sessions"
)

// VerifyFunc checks an access token and returns its claims
type VerifyFunc func(accessToken string) (*identity.Claims, error)

// SessionChecker looks up the registry row of a session token
type SessionChecker interface {
	Get(ctx context.Context, token string) (*sessions.ActiveSession, error)
}

type bearerKey struct{}

type bearer struct {
	accessToken string
	claims      *identity.Claims
}

// BearerAuth authenticates requests carrying "Authorization: Bearer <jwt>"
type BearerAuth struct {
	verify   VerifyFunc
	sessions SessionChecker
	logger   logrus.FieldLogger
}

// NewBearerAuth creates the middleware. A nil sessions skips the registry check.
func NewBearerAuth(verify VerifyFunc, sessions SessionChecker, logger logrus.FieldLogger) *BearerAuth {
	if logger == nil {
		logger = logrus.New()
	}
	return &BearerAuth{verify: verify, sessions: sessions, logger: logger}
}

// Handler wraps next with authentication
func (m *BearerAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httputil.WriteUnauthorized(w, "missing or malformed authorization header")
			return
		}

		claims, err := m.verify(token)
		if err != nil {
			m.logger.WithError(err).Debug("rejected access token")
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		if m.sessions != nil {
			// A token with no row yet is accepted: its registration is still queued.
			session, err := m.sessions.Get(r.Context(), claims.SessionToken)
			if err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
				m.logger.WithError(err).WithFields(logrus.Fields{
					"principal_id": claims.Subject,
					"session":      observability.TokenPrefix(claims.SessionToken),
				}).Warn("failed to check session state")
				httputil.WriteServiceUnavailable(w, "session state unavailable", 5*time.Second)
				return
			}
			if session != nil && !session.IsActive {
				httputil.WriteUnauthorized(w, "session is no longer active")
				return
			}
		}

		ctx := r.Context()
		ctx = contextkeys.WithPrincipalID(ctx, claims.Subject)
		ctx = contextkeys.WithEmail(ctx, claims.Email)
		ctx = contextkeys.WithSessionToken(ctx, claims.SessionToken)
		ctx = context.WithValue(ctx, bearerKey{}, bearer{accessToken: token, claims: claims})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFrom returns the verified access token and its claims
func ClaimsFrom(ctx context.Context) (string, *identity.Claims, bool) {
	b, ok := ctx.Value(bearerKey{}).(bearer)
	if !ok {
		return "", nil, false
	}
	return b.accessToken, b.claims, true
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
