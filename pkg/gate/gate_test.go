package gate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcangola/portal/pkg/contextkeys"
	"github.com/tcangola/portal/pkg/observability"
	"github.com/tcangola/portal/pkg/rbac"
)

type stubResolver struct {
	caps      *rbac.Capabilities
	err       error
	resolves  int
	refreshes int
}

func (s *stubResolver) Resolve(ctx context.Context, principalID string) (*rbac.Capabilities, error) {
	s.resolves++
	return s.caps, s.err
}

func (s *stubResolver) Refresh(ctx context.Context, principalID string) (*rbac.Capabilities, error) {
	s.refreshes++
	return s.caps, s.err
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("conteúdo"))
})

func serve(t *testing.T, g *Gate, p Policy, req *http.Request, opts ...Option) *httptest.ResponseRecorder {
	t.Helper()
	req = req.WithContext(contextkeys.WithPrincipalID(req.Context(), "p1"))
	w := httptest.NewRecorder()
	g.Protect(p, opts...)(okHandler).ServeHTTP(w, req)
	return w
}

func newTestGate(resolver Resolver) (*Gate, *observability.Metrics) {
	logger, _ := test.NewNullLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return New(resolver, logger, metrics), metrics
}

func TestGate_Allow(t *testing.T) {
	resolver := &stubResolver{caps: resolved(false, rbac.PermProcessView)}
	g, metrics := newTestGate(resolver)

	var seen *rbac.Capabilities
	handler := g.Protect(AnyOf("processos.list", rbac.PermProcessView))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Capabilities(r.Context())
	}))

	req := httptest.NewRequest("GET", "/processos", nil)
	req = req.WithContext(contextkeys.WithPrincipalID(req.Context(), "p1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, seen)
	assert.True(t, seen.HasPermission(rbac.PermProcessView))
	assert.Equal(t, 1, resolver.resolves)
	assert.Equal(t, 0, resolver.refreshes)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.GateDecisionsTotal.WithLabelValues("processos.list", "allow")))
}

func TestGate_DefaultExplainHTML(t *testing.T) {
	g, metrics := newTestGate(&stubResolver{caps: resolved(false)})

	req := httptest.NewRequest("GET", "/processos", nil)
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Referer", "http://example.com/painel?tab=2")
	w := serve(t, g, AnyOf("processos.list", rbac.PermProcessView), req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Acesso negado")
	assert.Contains(t, w.Body.String(), `href="/painel?tab=2"`)
	assert.Contains(t, w.Body.String(), "Voltar")
	assert.NotContains(t, w.Body.String(), "conteúdo")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.GateDecisionsTotal.WithLabelValues("processos.list", "deny")))
}

func TestGate_ExplainBackLinkRejectsOffsiteReferer(t *testing.T) {
	g, _ := newTestGate(&stubResolver{caps: resolved(false)})

	for name, referer := range map[string]string{
		"foreign host":         "https://evil.example.org/phish",
		"scheme-relative path": "http://example.com//evil.example.org/phish",
		"backslash path":       `http://example.com/\evil.example.org`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/processos", nil)
			req.Header.Set("Accept", "text/html")
			req.Header.Set("Referer", referer)
			w := serve(t, g, AnyOf("x", rbac.PermProcessView), req)

			assert.Contains(t, w.Body.String(), `href="/"`)
			assert.NotContains(t, w.Body.String(), "evil.example.org")
		})
	}
}

type failingWriter struct {
	*httptest.ResponseRecorder
}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestGate_RenderErrorsAreLogged(t *testing.T) {
	tests := []struct {
		name     string
		resolver *stubResolver
		message  string
	}{
		{"denied page", &stubResolver{caps: resolved(false)}, "failed to render access denied page"},
		{"loading page", &stubResolver{caps: rbac.Unresolved("p1"), err: errors.New("database unavailable")}, "failed to render loading page"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			logger.SetLevel(logrus.DebugLevel)
			g := New(tt.resolver, logger, observability.NewMetrics(prometheus.NewRegistry()))

			req := httptest.NewRequest("GET", "/processos", nil)
			req.Header.Set("Accept", "text/html")
			req = req.WithContext(contextkeys.WithPrincipalID(req.Context(), "p1"))
			g.Protect(AnyOf("x", rbac.PermProcessView))(okHandler).ServeHTTP(failingWriter{httptest.NewRecorder()}, req)

			var found bool
			for _, entry := range hook.AllEntries() {
				if entry.Message == tt.message {
					found = true
					assert.Equal(t, logrus.DebugLevel, entry.Level)
					assert.EqualError(t, entry.Data[logrus.ErrorKey].(error), "connection reset")
				}
			}
			assert.True(t, found, "expected %q to be logged", tt.message)
		})
	}
}

func TestGate_ExplainJSON(t *testing.T) {
	g, _ := newTestGate(&stubResolver{caps: resolved(false)})

	req := httptest.NewRequest("GET", "/processos", nil)
	req.Header.Set("Accept", "application/json")
	w := serve(t, g, AnyOf("x", rbac.PermProcessView), req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"access denied","reason":"forbidden","message":"Acesso negado"}`, w.Body.String())
}

func TestGate_Strategies(t *testing.T) {
	policy := AllOf("relatorios.validar", rbac.PermReportView, rbac.PermReportValidate)
	caps := resolved(false, rbac.PermReportView)

	t.Run("hide", func(t *testing.T) {
		g, _ := newTestGate(&stubResolver{caps: caps})
		w := serve(t, g, policy, httptest.NewRequest("POST", "/relatorios/1/validar", nil), WithDenial(Hide()))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("fallback", func(t *testing.T) {
		g, _ := newTestGate(&stubResolver{caps: caps})
		fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("versão de leitura"))
		})
		w := serve(t, g, policy, httptest.NewRequest("GET", "/relatorios/1", nil), WithDenial(Fallback(fallback)))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "versão de leitura", w.Body.String())
	})

	t.Run("redirect", func(t *testing.T) {
		g, _ := newTestGate(&stubResolver{caps: caps})
		w := serve(t, g, policy, httptest.NewRequest("GET", "/relatorios/1", nil), WithDenial(RedirectTo("/painel")))
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/painel", w.Header().Get("Location"))
	})
}

func TestGate_LoadingOnResolverError(t *testing.T) {
	resolver := &stubResolver{caps: rbac.Unresolved("p1"), err: errors.New("db down")}
	g, metrics := newTestGate(resolver)

	t.Run("json", func(t *testing.T) {
		w := serve(t, g, AnyOf("x", rbac.PermProcessView), httptest.NewRequest("GET", "/processos", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "1", w.Header().Get("Retry-After"))
		assert.NotContains(t, w.Body.String(), "conteúdo")
	})

	t.Run("html", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/processos", nil)
		req.Header.Set("Accept", "text/html")
		w := serve(t, g, AnyOf("x", rbac.PermProcessView), req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "1", w.Header().Get("Retry-After"))
		assert.Contains(t, w.Body.String(), "A verificar permissões")
	})

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.GateDecisionsTotal.WithLabelValues("x", "loading")))
}

func TestGate_FreshPolicyRefreshes(t *testing.T) {
	resolver := &stubResolver{caps: resolved(false, rbac.PermProcessDelete)}
	g, _ := newTestGate(resolver)

	w := serve(t, g, AnyOf("processos.delete", rbac.PermProcessDelete).WithFresh(), httptest.NewRequest("DELETE", "/processos/9", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, resolver.refreshes)
	assert.Equal(t, 0, resolver.resolves)
}
