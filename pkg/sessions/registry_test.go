package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcangola/portal/pkg/audit"
	"github.com/tcangola/portal/pkg/observability"
)

// failingStore fails every operation
type failingStore struct {
	err error
}

func (f failingStore) Register(context.Context, string, string, string) error { return f.err }
func (f failingStore) Touch(context.Context, string, string) error            { return f.err }
func (f failingStore) End(context.Context, string) (bool, error)              { return false, f.err }
func (f failingStore) Cleanup(context.Context, time.Duration) (int64, error)  { return 0, f.err }
func (f failingStore) Get(context.Context, string) (*ActiveSession, error)    { return nil, f.err }
func (f failingStore) ListActive(context.Context, string) ([]*ActiveSession, error) {
	return nil, f.err
}
func (f failingStore) IsActive(context.Context, string) (bool, error) { return false, f.err }

func TestRegistry_RegisterUsesClientUserAgent(t *testing.T) {
	store := NewMemoryStore()
	registry := NewRegistry(store, 0, nil, nil)

	ctx := audit.WithClientInfo(context.Background(), audit.ClientInfo{UserAgent: "Mozilla/5.0"})
	registry.RegisterActiveSession(ctx, "p1", "token-1")

	session, err := registry.Get(context.Background(), "token-1")
	require.NoError(t, err)
	assert.Equal(t, "Mozilla/5.0", session.UserAgent)
	assert.Equal(t, DefaultStaleAfter, registry.StaleAfter())
}

func TestRegistry_SignInDisplacesPreviousSession(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(NewMemoryStore(), time.Minute, nil, nil)

	registry.RegisterActiveSession(ctx, "p1", "laptop")
	registry.RegisterActiveSession(ctx, "p1", "phone")

	active, err := registry.IsActive(ctx, "laptop")
	require.NoError(t, err)
	assert.False(t, active)

	sessions, err := registry.ListActive(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "phone", sessions[0].SessionToken)
}

func TestRegistry_EndSessionTwice(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(NewMemoryStore(), time.Minute, nil, nil)
	registry.RegisterActiveSession(ctx, "p1", "token")

	registry.EndSession(ctx, "token")
	registry.EndSession(ctx, "token")

	session, err := registry.Get(ctx, "token")
	require.NoError(t, err)
	assert.False(t, session.IsActive)
}

func TestRegistry_FailuresAreLoggedNotReturned(t *testing.T) {
	ctx := context.Background()
	logger, hook := test.NewNullLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	registry := NewRegistry(failingStore{err: errors.New("connection reset")}, time.Minute, logger, metrics)

	registry.RegisterActiveSession(ctx, "p1", "abcdefghijklmnop")
	registry.UpdateActivity(ctx, "abcdefghijklmnop")
	registry.EndSession(ctx, "abcdefghijklmnop")
	assert.Equal(t, int64(0), registry.CleanupInactive(ctx))

	entries := hook.AllEntries()
	require.Len(t, entries, 4)
	for _, entry := range entries {
		assert.Equal(t, logrus.WarnLevel, entry.Level)
		if session, ok := entry.Data["session"]; ok {
			assert.Equal(t, "abcdefgh…", session)
		}
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionErrorsTotal.WithLabelValues("register")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionErrorsTotal.WithLabelValues("cleanup")))
}

func TestRegistry_CleanupInactive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	registry := NewRegistry(store, 30*time.Minute, nil, metrics)

	registry.RegisterActiveSession(ctx, "p1", "stale")
	clock = clock.Add(20 * time.Minute)
	registry.RegisterActiveSession(ctx, "p2", "fresh")
	clock = clock.Add(20 * time.Minute)

	assert.Equal(t, int64(1), registry.CleanupInactive(ctx))

	stale, err := registry.IsActive(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, stale)

	fresh, err := registry.IsActive(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, fresh)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionsCleanedTotal))
}

func TestRegistry_Terminate(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(NewMemoryStore(), time.Minute, nil, nil)
	registry.RegisterActiveSession(ctx, "p1", "token")

	require.NoError(t, registry.Terminate(ctx, "token"))

	active, err := registry.IsActive(ctx, "token")
	require.NoError(t, err)
	assert.False(t, active)

	assert.ErrorIs(t, registry.Terminate(ctx, "missing"), ErrSessionNotFound)
}
