package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Check(t *testing.T) {
	t.Run("healthy database and redis", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		status := NewHealthChecker(db, client, "test").Check(context.Background())

		assert.Equal(t, StatusHealthy, status.Status)
		assert.Equal(t, "test", status.Version)
		assert.Equal(t, StatusHealthy, status.Dependencies["database"].Status)
		assert.Equal(t, StatusHealthy, status.Dependencies["redis"].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database down is unhealthy", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection refused"))

		status := NewHealthChecker(db, nil, "").Check(context.Background())

		assert.Equal(t, StatusUnhealthy, status.Status)
		assert.Contains(t, status.Dependencies["database"].Message, "connection refused")
	})

	t.Run("redis down is degraded", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		defer client.Close()
		mr.Close()

		status := NewHealthChecker(nil, client, "").Check(context.Background())

		assert.Equal(t, StatusDegraded, status.Status)
		assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"].Status)
	})
}

func TestHealthRoutes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("down"))

	router := mux.NewRouter()
	RegisterHealthRoutes(router, NewHealthChecker(db, nil, "1.0"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, StatusUnhealthy, status.Status)
}
