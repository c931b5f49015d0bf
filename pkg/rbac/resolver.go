package rbac

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Source answers the two questions a resolution needs
type Source interface {
	ListProfileAssignments(ctx context.Context, principalID string) ([]Profile, error)
	IsAdmin(ctx context.Context, principalID string) (bool, error)
}

// SharedCache is an optional cache tier shared between replicas
type SharedCache interface {
	Get(ctx context.Context, principalID string) (*Capabilities, bool, error)
	Set(ctx context.Context, caps *Capabilities, ttl time.Duration) error
	Delete(ctx context.Context, principalID string) error
	Purge(ctx context.Context) error
}

// ResolverConfig tunes the resolver cache
type ResolverConfig struct {
	TTL  time.Duration
	Size int
}

// DefaultResolverConfig returns a five minute TTL over 10000 principals
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		TTL:  5 * time.Minute,
		Size: 10000,
	}
}

// Stats describes resolver cache activity since construction
type Stats struct {
	Entries    int    `json:"entries"`
	LocalHits  uint64 `json:"local_hits"`
	SharedHits uint64 `json:"shared_hits"`
	Misses     uint64 `json:"misses"`
	Errors     uint64 `json:"errors"`
}

// Resolver computes and caches principal capabilities
type Resolver struct {
	source  Source
	shared  SharedCache
	local   *expirable.LRU[string, *Capabilities]
	group   singleflight.Group
	ttl     time.Duration
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	// inflight tracks running loads so Invalidate and Purge can keep their
	// results out of the caches
	mu       sync.Mutex
	inflight map[string]map[*pendingLoad]struct{}

	localHits  atomic.Uint64
	sharedHits atomic.Uint64
	misses     atomic.Uint64
	failures   atomic.Uint64
}

// NewResolver creates a resolver. shared may be nil.
func NewResolver(source Source, cfg ResolverConfig, shared SharedCache, logger logrus.FieldLogger, metrics *observability.Metrics) *Resolver {
	defaults := DefaultResolverConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.Size <= 0 {
		cfg.Size = defaults.Size
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Resolver{
		source:  source,
		shared:  shared,
		local:   expirable.NewLRU[string, *Capabilities](cfg.Size, nil, cfg.TTL),
		ttl:     cfg.TTL,
		logger:  logger,
		metrics: metrics,
		tracer:  observability.Tracer("github.com/tcangola/portal/pkg/rbac"),
		now:     time.Now,

		inflight: make(map[string]map[*pendingLoad]struct{}),
	}
}

// pendingLoad is one lookup whose result has not reached the caches yet
type pendingLoad struct {
	principalID string
	stale       bool
}

// Resolve returns the principal's capabilities, from cache when fresh.
// On failure it returns an unresolved state together with the error.
// An empty principal resolves to the empty state without querying.
// The returned value is shared with the cache and must not be modified.
func (r *Resolver) Resolve(ctx context.Context, principalID string) (*Capabilities, error) {
	if principalID == "" {
		return Empty("", r.now().UTC()), nil
	}

	ctx, span := r.tracer.Start(ctx, "rbac.Resolve", trace.WithAttributes(attribute.String("principal_id", principalID)))
	defer span.End()

	if caps, ok := r.local.Get(principalID); ok && r.fresh(caps) {
		r.localHits.Add(1)
		r.metrics.ResolverHit("local")
		span.SetAttributes(attribute.String("cache", "local"))
		return caps, nil
	}

	if caps, ok := r.fromShared(ctx, principalID); ok {
		r.sharedHits.Add(1)
		r.metrics.ResolverHit("shared")
		span.SetAttributes(attribute.String("cache", "shared"))
		return caps, nil
	}

	span.SetAttributes(attribute.String("cache", "miss"))
	caps, err := r.load(ctx, principalID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution failed")
	}
	return caps, err
}

// fromShared reads the shared tier and copies a fresh hit into the local one
func (r *Resolver) fromShared(ctx context.Context, principalID string) (*Capabilities, bool) {
	if r.shared == nil {
		return nil, false
	}
	pending := r.track(principalID)
	defer r.untrack(pending)

	caps, ok, err := r.shared.Get(ctx, principalID)
	if err != nil {
		r.logger.WithError(err).WithField("principal_id", principalID).Warn("shared capability cache unavailable")
		return nil, false
	}
	if !ok || !r.fresh(caps) {
		return nil, false
	}
	r.storeLocal(pending, caps)
	return caps, true
}

// Refresh bypasses both cache tiers and repopulates them
func (r *Resolver) Refresh(ctx context.Context, principalID string) (*Capabilities, error) {
	if principalID == "" {
		return Empty("", r.now().UTC()), nil
	}

	ctx, span := r.tracer.Start(ctx, "rbac.Refresh", trace.WithAttributes(attribute.String("principal_id", principalID)))
	defer span.End()

	r.group.Forget(principalID)
	caps, err := r.load(ctx, principalID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution failed")
	}
	return caps, err
}

// Invalidate drops the principal from both cache tiers
func (r *Resolver) Invalidate(ctx context.Context, principalID string) {
	if principalID == "" {
		return
	}
	r.group.Forget(principalID)

	r.mu.Lock()
	for pending := range r.inflight[principalID] {
		pending.stale = true
	}
	r.local.Remove(principalID)
	r.mu.Unlock()

	if r.shared != nil {
		if err := r.shared.Delete(ctx, principalID); err != nil {
			r.logger.WithError(err).WithField("principal_id", principalID).Warn("failed to invalidate shared capabilities")
		}
	}
}

// Purge empties both cache tiers
func (r *Resolver) Purge(ctx context.Context) {
	r.mu.Lock()
	for _, loads := range r.inflight {
		for pending := range loads {
			pending.stale = true
		}
	}
	r.local.Purge()
	r.mu.Unlock()

	if r.shared != nil {
		if err := r.shared.Purge(ctx); err != nil {
			r.logger.WithError(err).Warn("failed to purge shared capabilities")
		}
	}
}

// Stats reports cache counters
func (r *Resolver) Stats() Stats {
	return Stats{
		Entries:    r.local.Len(),
		LocalHits:  r.localHits.Load(),
		SharedHits: r.sharedHits.Load(),
		Misses:     r.misses.Load(),
		Errors:     r.failures.Load(),
	}
}

// fresh bounds every cached value by the TTL measured from resolution time,
// whichever tier it came from
func (r *Resolver) fresh(caps *Capabilities) bool {
	return caps != nil && caps.Resolved && r.now().Sub(caps.ResolvedAt) < r.ttl
}

func (r *Resolver) load(ctx context.Context, principalID string) (*Capabilities, error) {
	v, err, _ := r.group.Do(principalID, func() (interface{}, error) {
		pending := r.track(principalID)
		defer r.untrack(pending)

		start := r.now()
		caps, err := r.query(ctx, principalID)
		r.misses.Add(1)
		r.metrics.ResolverMiss(r.now().Sub(start), err)
		if err != nil {
			return nil, err
		}

		if !r.storeLocal(pending, caps) || r.shared == nil {
			return caps, nil
		}
		if err := r.shared.Set(ctx, caps, r.ttl); err != nil {
			r.logger.WithError(err).WithField("principal_id", principalID).Warn("failed to store shared capabilities")
			return caps, nil
		}
		// an invalidation that raced the write may have deleted before it landed
		if r.invalidated(pending) {
			if err := r.shared.Delete(ctx, principalID); err != nil {
				r.logger.WithError(err).WithField("principal_id", principalID).Warn("failed to drop superseded shared capabilities")
			}
		}
		return caps, nil
	})
	if err != nil {
		r.failures.Add(1)
		observability.WithTraceContext(ctx, r.logger).WithError(err).
			WithField("principal_id", principalID).
			Warn("failed to resolve capabilities")
		return Unresolved(principalID), err
	}
	return v.(*Capabilities), nil
}

func (r *Resolver) track(principalID string) *pendingLoad {
	pending := &pendingLoad{principalID: principalID}
	r.mu.Lock()
	defer r.mu.Unlock()
	loads, ok := r.inflight[principalID]
	if !ok {
		loads = make(map[*pendingLoad]struct{})
		r.inflight[principalID] = loads
	}
	loads[pending] = struct{}{}
	return pending
}

func (r *Resolver) untrack(pending *pendingLoad) {
	r.mu.Lock()
	defer r.mu.Unlock()
	loads := r.inflight[pending.principalID]
	delete(loads, pending)
	if len(loads) == 0 {
		delete(r.inflight, pending.principalID)
	}
}

func (r *Resolver) invalidated(pending *pendingLoad) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pending.stale
}

// storeLocal caches caps unless the principal was invalidated since the load began
func (r *Resolver) storeLocal(pending *pendingLoad, caps *Capabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pending.stale {
		return false
	}
	r.local.Add(pending.principalID, caps)
	return true
}

func (r *Resolver) query(ctx context.Context, principalID string) (*Capabilities, error) {
	var (
		profiles []Profile
		isAdmin  bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profiles, err = r.source.ListProfileAssignments(gctx, principalID)
		return err
	})
	g.Go(func() error {
		var err error
		isAdmin, err = r.source.IsAdmin(gctx, principalID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to resolve capabilities for %s: %w", principalID, err)
	}

	return Aggregate(principalID, profiles, isAdmin, r.now().UTC()), nil
}
