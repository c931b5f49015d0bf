package gate

import (
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tcangola/portal/pkg/httputil"
)

// Strategy renders a denial
type Strategy func(w http.ResponseWriter, r *http.Request, p Policy)

// Hide answers 204 with no body
func Hide() Strategy {
	return func(w http.ResponseWriter, r *http.Request, p Policy) {
		httputil.WriteNoContent(w)
	}
}

// Fallback serves alternative content instead
func Fallback(h http.Handler) Strategy {
	return func(w http.ResponseWriter, r *http.Request, p Policy) {
		h.ServeHTTP(w, r)
	}
}

// RedirectTo sends the client to target with 303 See Other
func RedirectTo(target string) Strategy {
	return func(w http.ResponseWriter, r *http.Request, p Policy) {
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

var deniedPage = template.Must(template.New("denied").Parse(`<!DOCTYPE html>
<html lang="pt">
<head>
<meta charset="utf-8">
<title>Acesso negado</title>
</head>
<body>
<main>
<h1>Acesso negado</h1>
<p>Não tem permissão para aceder a esta área.</p>
<p><a href="{{.Back}}">Voltar</a></p>
</main>
</body>
</html>
`))

var loadingPage = template.Must(template.New("loading").Parse(`<!DOCTYPE html>
<html lang="pt">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="{{.RetryAfter}}">
<title>A carregar</title>
</head>
<body>
<main>
<p>A verificar permissões…</p>
</main>
</body>
</html>
`))

// Explain renders the "access denied" page with a link back to the referring
// page. JSON clients receive a 403 error body instead.
func Explain() Strategy {
	return func(w http.ResponseWriter, r *http.Request, p Policy) {
		if httputil.WantsJSON(r) {
			httputil.WriteErrorResponse(w, http.StatusForbidden, httputil.ErrorResponse{
				Error:   "access denied",
				Reason:  "forbidden",
				Message: "Acesso negado",
			})
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		if err := deniedPage.Execute(w, struct{ Back string }{Back: backLink(r)}); err != nil {
			loggerFrom(r.Context()).WithError(err).Debug("failed to render access denied page")
		}
	}
}

// renderLoading answers 503 so the client retries once capabilities resolve
func (g *Gate) renderLoading(w http.ResponseWriter, r *http.Request) {
	if httputil.WantsJSON(r) {
		httputil.WriteServiceUnavailable(w, "capabilities not resolved", g.retryAfter)
		return
	}

	seconds := int(g.retryAfter / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.WriteHeader(http.StatusServiceUnavailable)
	if err := loadingPage.Execute(w, struct{ RetryAfter int }{RetryAfter: seconds}); err != nil {
		g.logger.WithError(err).Debug("failed to render loading page")
	}
}

// backLink returns the referring path when it is on this host, "/" otherwise.
// The path must start with a single slash so it cannot be read as
// scheme-relative.
func backLink(r *http.Request) string {
	ref, err := url.Parse(r.Referer())
	if err != nil || ref.Path == "" {
		return "/"
	}
	if ref.Host != "" && ref.Host != r.Host {
		return "/"
	}
	if !strings.HasPrefix(ref.Path, "/") || strings.HasPrefix(ref.Path, "//") || strings.HasPrefix(ref.Path, "/\\") {
		return "/"
	}
	back := ref.Path
	if ref.RawQuery != "" {
		back += "?" + ref.RawQuery
	}
	return back
}
