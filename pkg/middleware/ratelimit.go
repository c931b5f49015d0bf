package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/httputil"
	"golang.org/x/time/rate"
)

// Limiter decides whether the request identified by key may proceed. When it
// may not, retryAfter says when to try again.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the sustained number of requests per window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize is the number of requests allowed at once
	BurstSize int
}

// SignInRateLimitConfig returns the limits applied to credential endpoints
func SignInRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
		BurstSize:         5,
	}
}

func (c RateLimitConfig) normalized() RateLimitConfig {
	defaults := SignInRateLimitConfig()
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = defaults.RequestsPerWindow
	}
	if c.WindowDuration <= 0 {
		c.WindowDuration = defaults.WindowDuration
	}
	if c.BurstSize <= 0 {
		c.BurstSize = c.RequestsPerWindow
	}
	return c
}

// RateLimiter keeps a token bucket per key in process memory
type RateLimiter struct {
	config   RateLimitConfig
	limit    rate.Limit
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	config = config.normalized()
	return &RateLimiter{
		config:   config,
		limit:    rate.Every(config.WindowDuration / time.Duration(config.RequestsPerWindow)),
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow takes a token from key's bucket
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := rl.now()

	rl.mu.Lock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.config.BurstSize)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	rl.mu.Unlock()

	reservation := v.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, rl.config.WindowDuration, nil
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

// Cleanup forgets keys idle for two windows
func (rl *RateLimiter) Cleanup() {
	cutoff := rl.now().Add(-2 * rl.config.WindowDuration)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
		}
	}
}

// StartCleanup runs Cleanup every window until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// KeyFunc derives the rate limit key of a request
type KeyFunc func(r *http.Request) string

// ByClientIP keys requests by the connection's peer address. Behind a proxy
// use TrustedProxies.ByClientIP.
func ByClientIP(r *http.Request) string {
	return "ip:" + ClientIP(r)
}

// RateLimit rejects requests over limiter's budget with 429. Limiter errors
// are logged and the request is let through.
func RateLimit(limiter Limiter, keyFunc KeyFunc, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	if keyFunc == nil {
		keyFunc = ByClientIP
	}
	if logger == nil {
		logger = logrus.New()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			allowed, retryAfter, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WithError(err).WithField("key", key).Warn("rate limiter unavailable; allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				logger.WithFields(logrus.Fields{"key": key, "path": r.URL.Path}).Info("rate limit exceeded")
				httputil.WriteTooManyRequests(w, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
