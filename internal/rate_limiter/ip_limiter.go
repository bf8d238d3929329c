// Package ratelimiter throttles HTTP clients by IP with a sliding window.
package ratelimiter

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/johndosdos/chatrelay/internal/response"
)

// Option configures an IPRateLimiter.
type Option func(*IPRateLimiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(rl *IPRateLimiter) { rl.now = now }
}

// WithLogger sets the logger used for rejected requests.
func WithLogger(log *slog.Logger) Option {
	return func(rl *IPRateLimiter) { rl.log = log }
}

// IPRateLimiter accepts at most limit requests per client IP in any window.
// Rejected requests are not counted.
type IPRateLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time // accepted request times, oldest first
	limit  int
	window time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// NewIPRateLimiter returns a limiter allowing limit requests per window.
func NewIPRateLimiter(limit int, window time.Duration, opts ...Option) *IPRateLimiter {
	rl := &IPRateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  max(limit, 1),
		window: window,
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow records a request from ip if it fits in the window. Otherwise it
// returns how long until the oldest counted request leaves the window.
func (rl *IPRateLimiter) Allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	hits := rl.liveLocked(ip, now)
	if len(hits) >= rl.limit {
		rl.hits[ip] = hits
		return false, hits[0].Add(rl.window).Sub(now)
	}

	rl.hits[ip] = append(hits, now)
	return true, 0
}

// liveLocked drops the hits of ip that are outside the window ending at now.
func (rl *IPRateLimiter) liveLocked(ip string, now time.Time) []time.Time {
	hits := rl.hits[ip]
	i := 0
	for i < len(hits) && now.Sub(hits[i]) >= rl.window {
		i++
	}
	return hits[i:]
}

// Prune forgets clients with no request inside the current window.
func (rl *IPRateLimiter) Prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip := range rl.hits {
		if hits := rl.liveLocked(ip, now); len(hits) > 0 {
			rl.hits[ip] = hits
		} else {
			delete(rl.hits, ip)
		}
	}
}

// Run prunes idle clients once per window until ctx is done.
func (rl *IPRateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.Prune()
		}
	}
}

// Tracked returns the number of client IPs currently remembered.
func (rl *IPRateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return len(rl.hits)
}

// ClientIP prefers the last X-Forwarded-For hop, then the remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		return strings.TrimSpace(hops[len(hops)-1])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware answers 429 with a JSON envelope once a client is over the
// limit.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)

		ok, wait := rl.Allow(ip)
		if !ok {
			retryAfter := max(int(math.Ceil(wait.Seconds())), 1)
			rl.log.WarnContext(r.Context(), "rate limit exceeded",
				"ip", ip,
				"path", r.URL.Path,
				"method", r.Method,
				"retry_after", retryAfter)

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			response.JSON(w, r, http.StatusTooManyRequests, response.Envelope{
				Message:    "Too many requests. Try again later.",
				RetryAfter: retryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
