package sessions

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/audit"
	"github.com/tcangola/portal/pkg/observability"
)

// DefaultStaleAfter is the idle time after which cleanup deactivates a session
const DefaultStaleAfter = 30 * time.Minute

// Registry wraps a Store for sign-in bookkeeping. Its write operations never
// fail from the caller's point of view: errors are logged and counted.
type Registry struct {
	store      Store
	staleAfter time.Duration
	logger     logrus.FieldLogger
	metrics    *observability.Metrics
}

// NewRegistry creates a registry over store
func NewRegistry(store Store, staleAfter time.Duration, logger logrus.FieldLogger, metrics *observability.Metrics) *Registry {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		store:      store,
		staleAfter: staleAfter,
		logger:     logger,
		metrics:    metrics,
	}
}

// StaleAfter returns the configured staleness threshold
func (r *Registry) StaleAfter() time.Duration {
	return r.staleAfter
}

// RegisterActiveSession makes token the principal's only active session.
// The user agent is taken from the client info carried by ctx.
func (r *Registry) RegisterActiveSession(ctx context.Context, principalID, token string) {
	err := r.store.Register(ctx, principalID, token, audit.ClientInfoFrom(ctx).UserAgent)
	r.metrics.SessionOperation("register", err)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"principal_id": principalID,
			"session":      observability.TokenPrefix(token),
		}).Warn("failed to register active session")
	}
}

// UpdateActivity bumps the session heartbeat. Unknown tokens are ignored.
func (r *Registry) UpdateActivity(ctx context.Context, token string) {
	err := r.store.Touch(ctx, token, audit.ClientInfoFrom(ctx).UserAgent)
	r.metrics.SessionOperation("update_activity", err)
	if err != nil {
		r.logger.WithError(err).WithField("session", observability.TokenPrefix(token)).
			Warn("failed to update session activity")
	}
}

// EndSession deactivates a session. Ending an inactive or unknown session is a no-op.
func (r *Registry) EndSession(ctx context.Context, token string) {
	_, err := r.store.End(ctx, token)
	r.metrics.SessionOperation("end", err)
	if err != nil {
		r.logger.WithError(err).WithField("session", observability.TokenPrefix(token)).
			Warn("failed to end session")
	}
}

// CleanupInactive deactivates stale sessions and returns how many were
// deactivated. Failures yield zero.
func (r *Registry) CleanupInactive(ctx context.Context) int64 {
	affected, err := r.store.Cleanup(ctx, r.staleAfter)
	r.metrics.SessionOperation("cleanup", err)
	if err != nil {
		r.logger.WithError(err).WithField("stale_after", r.staleAfter.String()).
			Warn("failed to clean up inactive sessions")
		return 0
	}

	r.metrics.SessionsCleaned(affected)
	if affected > 0 {
		r.logger.WithField("count", affected).Info("deactivated stale sessions")
	}
	return affected
}

// ListActive returns active sessions, for one principal or for everyone
func (r *Registry) ListActive(ctx context.Context, principalID string) ([]*ActiveSession, error) {
	return r.store.ListActive(ctx, principalID)
}

// Get returns a session by token
func (r *Registry) Get(ctx context.Context, token string) (*ActiveSession, error) {
	return r.store.Get(ctx, token)
}

// Terminate ends a session on behalf of an administrator. Unlike EndSession
// it reports unknown tokens with ErrSessionNotFound.
func (r *Registry) Terminate(ctx context.Context, token string) error {
	if _, err := r.store.Get(ctx, token); err != nil {
		return err
	}
	_, err := r.store.End(ctx, token)
	r.metrics.SessionOperation("terminate", err)
	if err != nil {
		return err
	}
	r.logger.WithField("session", observability.TokenPrefix(token)).Info("session terminated")
	return nil
}

// IsActive reports whether token names an active session
func (r *Registry) IsActive(ctx context.Context, token string) (bool, error) {
	return r.store.IsActive(ctx, token)
}
