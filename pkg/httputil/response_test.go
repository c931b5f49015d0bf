package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusBadRequest, errors.New("test error"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"test error"}`, w.Body.String())
}

func TestWriteErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusUnauthorized, ErrorResponse{
		Error:   "sign in failed",
		Reason:  "invalid_credentials",
		Message: "Email ou palavra-passe incorrectos.",
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"sign in failed","reason":"invalid_credentials","message":"Email ou palavra-passe incorrectos."}`, w.Body.String())
}

func TestWriteStatusHelpers(t *testing.T) {
	tests := []struct {
		name  string
		write func(w http.ResponseWriter)
		code  int
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "x") }, http.StatusBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "x") }, http.StatusUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "x") }, http.StatusForbidden},
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "x") }, http.StatusNotFound},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "x") }, http.StatusConflict},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w) }, http.StatusInternalServerError},
		{"no content", func(w http.ResponseWriter) { WriteNoContent(w) }, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestWriteUnauthorized_Challenge(t *testing.T) {
	w := httptest.NewRecorder()
	WriteUnauthorized(w, "missing authorization header")
	assert.Equal(t, `Bearer realm="portal"`, w.Header().Get("WWW-Authenticate"))
}

func TestRetryAfterHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	WriteTooManyRequests(w, 2500*time.Millisecond)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	WriteServiceUnavailable(w, "loading", 0)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestWantsJSON(t *testing.T) {
	tests := []struct {
		accept string
		want   bool
	}{
		{"", true},
		{"application/json", true},
		{"*/*", true},
		{"text/html,application/xhtml+xml,*/*;q=0.8", false},
		{"text/plain", false},
	}

	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			assert.Equal(t, tt.want, WantsJSON(req))
		})
	}
}
