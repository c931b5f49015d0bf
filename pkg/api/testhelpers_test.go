package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/tcangola/portal/pkg/async"
	"github.com/tcangola/portal/pkg/audit"
	"github.com/tcangola/portal/pkg/identity"
	"github.com/tcangola/portal/pkg/rbac"
	"github.com/tcangola/portal/pkg/sessions"
	"golang.org/x/crypto/bcrypt"
)

var testSecret = []byte("api-test-secret-with-enough-entropy-0123")

const testPassword = "tribunal2024"

// memoryProfiles is an in-memory rbac.Source and ProfileAdmin
type memoryProfiles struct {
	mu       sync.Mutex
	profiles map[string]rbac.Profile
	assigned map[string][]string
	admins   map[string]bool
	err      error
}

func newMemoryProfiles(profiles ...rbac.Profile) *memoryProfiles {
	m := &memoryProfiles{
		profiles: make(map[string]rbac.Profile),
		assigned: make(map[string][]string),
		admins:   make(map[string]bool),
	}
	for _, p := range profiles {
		m.profiles[p.Name] = p
	}
	return m
}

func (m *memoryProfiles) ListProfileAssignments(ctx context.Context, principalID string) ([]rbac.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []rbac.Profile
	for _, name := range m.assigned[principalID] {
		out = append(out, m.profiles[name])
	}
	return out, nil
}

func (m *memoryProfiles) IsAdmin(ctx context.Context, principalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.admins[principalID], nil
}

func (m *memoryProfiles) ListProfiles(ctx context.Context) ([]rbac.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]rbac.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryProfiles) AssignProfile(ctx context.Context, principalID, profileName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[profileName]; !ok {
		return rbac.ErrProfileNotFound
	}
	for _, name := range m.assigned[principalID] {
		if name == profileName {
			return nil
		}
	}
	m.assigned[principalID] = append(m.assigned[principalID], profileName)
	return nil
}

func (m *memoryProfiles) RevokeProfile(ctx context.Context, principalID, profileName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[profileName]; !ok {
		return rbac.ErrProfileNotFound
	}
	names := m.assigned[principalID]
	for i, name := range names {
		if name == profileName {
			m.assigned[principalID] = append(names[:i:i], names[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memoryProfiles) grantAdmin(principalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins[principalID] = true
}

func (m *memoryProfiles) failWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type recordedEvents struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordedEvents) Record(ctx context.Context, entry audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordedEvents) of(kind audit.EventKind) []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Entry
	for _, e := range r.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type captureNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (n *captureNotifier) NotifyPasswordReset(ctx context.Context, user *identity.User, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.tokens == nil {
		n.tokens = make(map[string]string)
	}
	n.tokens[user.Email] = token
	return nil
}

func (n *captureNotifier) tokenFor(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[email]
}

type stubEventLog struct {
	filter audit.Filter
	events []*audit.AuthEvent
	err    error
}

func (s *stubEventLog) Recent(ctx context.Context, filter audit.Filter) ([]*audit.AuthEvent, error) {
	s.filter = filter
	return s.events, s.err
}

type testPortal struct {
	server   *Server
	identity *identity.Service
	registry *sessions.Registry
	profiles *memoryProfiles
	resolver *rbac.Resolver
	events   *recordedEvents
	notifier *captureNotifier
}

func testProfiles() []rbac.Profile {
	return []rbac.Profile{
		{
			ID:             "p-tecnico",
			Name:           "tecnico",
			Permissions:    []rbac.Permission{rbac.PermProcessView, rbac.PermProcessCreate, rbac.PermReportView},
			FunctionalArea: &rbac.FunctionalArea{ID: "fa-visto", Name: "Fiscalização Preventiva"},
		},
		{
			ID:          "p-juiz",
			Name:        "juiz",
			Permissions: []rbac.Permission{rbac.PermReportView, rbac.PermReportValidate},
		},
		{
			ID:          "p-gestor",
			Name:        "gestor_sessoes",
			Permissions: []rbac.Permission{rbac.PermSessionView, rbac.PermSessionTerminate},
		},
	}
}

func newTestPortal(t *testing.T, mutate func(*Deps)) *testPortal {
	t.Helper()
	logger, _ := test.NewNullLogger()

	notifier := &captureNotifier{}
	svc, err := identity.NewService(identity.NewMemoryUserStore(), identity.Config{
		JWTSecret:  testSecret,
		BcryptCost: bcrypt.MinCost,
	}, notifier, logger)
	require.NoError(t, err)

	profiles := newMemoryProfiles(testProfiles()...)
	p := &testPortal{
		identity: svc,
		registry: sessions.NewRegistry(sessions.NewMemoryStore(), sessions.DefaultStaleAfter, logger, nil),
		profiles: profiles,
		resolver: rbac.NewResolver(profiles, rbac.DefaultResolverConfig(), nil, logger, nil),
		events:   &recordedEvents{},
		notifier: notifier,
	}

	deps := Deps{
		Identity:   svc,
		Sessions:   p.registry,
		Resolver:   p.resolver,
		Profiles:   profiles,
		Events:     p.events,
		Dispatcher: async.Inline{Logger: logger},
		Logger:     logger,
	}
	if mutate != nil {
		mutate(&deps)
	}
	p.server, err = NewServer(deps)
	require.NoError(t, err)
	return p
}

// register creates an account, assigns profiles and returns the principal id
func (p *testPortal) register(t *testing.T, email string, profiles ...string) string {
	t.Helper()
	principal, err := p.identity.Register(context.Background(), email, testPassword, "")
	require.NoError(t, err)
	for _, name := range profiles {
		require.NoError(t, p.profiles.AssignProfile(context.Background(), principal.ID, name))
	}
	return principal.ID
}

func (p *testPortal) registerAdmin(t *testing.T, email string) string {
	t.Helper()
	id := p.register(t, email)
	p.profiles.grantAdmin(id)
	return id
}

func (p *testPortal) signIn(t *testing.T, email string) sessionResponse {
	t.Helper()
	rec := p.do(t, http.MethodPost, "/auth/sign-in", "", map[string]string{
		"email":    email,
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var session sessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	return session
}

func (p *testPortal) do(t *testing.T, method, path, accessToken string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return p.doWith(t, method, path, accessToken, body, nil)
}

func (p *testPortal) doWith(t *testing.T, method, path, accessToken string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	rec := httptest.NewRecorder()
	p.server.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

var errSourceDown = errors.New("connection refused")
