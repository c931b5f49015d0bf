package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager stops the HTTP server first and then runs the registered
// shutdown functions in reverse registration order.
type ShutdownManager struct {
	logger  logrus.FieldLogger
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	funcs []namedShutdown
}

type namedShutdown struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger logrus.FieldLogger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		server:  server,
		timeout: timeout,
	}
}

// Register adds a named function to run during shutdown
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, namedShutdown{name: name, fn: fn})
}

// WaitForSignal blocks until SIGINT or SIGTERM and then shuts down
func (sm *ShutdownManager) WaitForSignal() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	sm.logger.WithField("signal", sig.String()).Info("Starting graceful shutdown")

	return sm.Shutdown()
}

// Shutdown stops the server and runs every registered function within the timeout
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs []error

	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	sm.mu.Lock()
	funcs := make([]namedShutdown, len(sm.funcs))
	copy(funcs, sm.funcs)
	sm.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		f := funcs[i]
		if err := f.fn(ctx); err != nil {
			sm.logger.WithError(err).WithField("component", f.name).Error("Shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		sm.logger.WithField("component", f.name).Debug("Shutdown step complete")
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}
