package gate

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/contextkeys"
	"github.com/tcangola/portal/pkg/observability"
	"github.com/tcangola/portal/pkg/rbac"
)

// Resolver is the part of rbac.Resolver the gate needs
type Resolver interface {
	Resolve(ctx context.Context, principalID string) (*rbac.Capabilities, error)
	Refresh(ctx context.Context, principalID string) (*rbac.Capabilities, error)
}

type capabilitiesKey struct{}

type loggerKey struct{}

// loggerFrom returns the gate's logger for strategies it invokes
func loggerFrom(ctx context.Context) logrus.FieldLogger {
	if logger, ok := ctx.Value(loggerKey{}).(logrus.FieldLogger); ok {
		return logger
	}
	return logrus.StandardLogger()
}

// Capabilities returns the capabilities the gate resolved for this request, if any
func Capabilities(ctx context.Context) *rbac.Capabilities {
	caps, _ := ctx.Value(capabilitiesKey{}).(*rbac.Capabilities)
	return caps
}

// Gate protects HTTP handlers with policies
type Gate struct {
	resolver   Resolver
	logger     logrus.FieldLogger
	metrics    *observability.Metrics
	retryAfter time.Duration
}

// New creates a gate
func New(resolver Resolver, logger logrus.FieldLogger, metrics *observability.Metrics) *Gate {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gate{
		resolver:   resolver,
		logger:     logger,
		metrics:    metrics,
		retryAfter: time.Second,
	}
}

// Option customizes one protected region
type Option func(*protection)

type protection struct {
	deny Strategy
}

// WithDenial sets how a denial is rendered. Explain is the default.
func WithDenial(s Strategy) Option {
	return func(p *protection) {
		p.deny = s
	}
}

// Protect returns middleware enforcing policy. The principal comes from the
// request context.
func (g *Gate) Protect(policy Policy, opts ...Option) func(http.Handler) http.Handler {
	prot := protection{deny: Explain()}
	for _, opt := range opts {
		opt(&prot)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principalID := contextkeys.PrincipalID(ctx)

			caps, err := g.capabilities(ctx, policy, principalID)
			if err != nil {
				observability.WithTraceContext(ctx, g.logger).WithError(err).WithFields(logrus.Fields{
					"policy":       policy.Name,
					"principal_id": principalID,
				}).Warn("capabilities unavailable, rendering loading state")
			}

			decision := Evaluate(policy, caps)
			g.metrics.GateDecision(policy.Name, decision.String())

			switch decision {
			case Allow:
				next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, capabilitiesKey{}, caps)))
			case Deny:
				g.logger.WithFields(logrus.Fields{
					"policy":       policy.Name,
					"principal_id": principalID,
					"path":         r.URL.Path,
				}).Debug("access denied")
				prot.deny(w, r.WithContext(context.WithValue(ctx, loggerKey{}, g.logger)), policy)
			default:
				g.renderLoading(w, r)
			}
		})
	}
}

func (g *Gate) capabilities(ctx context.Context, policy Policy, principalID string) (*rbac.Capabilities, error) {
	if policy.Fresh {
		return g.resolver.Refresh(ctx, principalID)
	}
	return g.resolver.Resolve(ctx, principalID)
}
