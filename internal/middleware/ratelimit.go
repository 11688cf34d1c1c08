package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/internal/httputil"
	"github.com/R3E-Network/signflow/pkg/logger"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client address, or per user once
// authenticated.
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	clock    clock.Clock
	logger   *logger.Logger
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(requestsPerSecond float64, burst int, clk clock.Clock, log *logger.Logger) *RateLimiter {
	if clk == nil {
		clk = clock.WallClock
	}
	if log == nil {
		log = logger.NewDefault("ratelimit")
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		clock:    clk,
		logger:   log,
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func key(r *http.Request) string {
	if id := GetUserID(r.Context()); id != "" {
		return "user:" + id
	}
	if ip := logger.GetClientIP(r.Context()); ip != "" {
		return "ip:" + ip
	}
	return "addr:" + r.RemoteAddr
}

// Handler returns the rate limiting middleware handler.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k := key(r)
		if !rl.allow(k) {
			rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
				"key":    k,
				"path":   r.URL.Path,
				"method": r.Method,
			})
			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter()))
			serviceErr := errors.RateLimitExceeded(int(rl.rate), "1s")
			httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) retryAfter() int {
	if rl.rate <= 0 {
		return 60
	}
	secs := int(1 / float64(rl.rate))
	if secs < 1 {
		return 1
	}
	return secs
}

// Cleanup drops limiters idle for longer than maxIdle and returns how many
// remain.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.clock.Now().Add(-maxIdle)
	for k, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, k)
		}
	}
	return len(rl.limiters)
}

// StartCleanup prunes idle limiters every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-rl.clock.After(interval):
				rl.Cleanup(interval)
			}
		}
	}()
}
