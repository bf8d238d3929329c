package ratelimiter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatrelay/internal/response"
	"github.com/johndosdos/chatrelay/internal/testutil"
)

// manualClock is moved forward by the test.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T, limit int, window time.Duration) (*IPRateLimiter, *manualClock) {
	t.Helper()
	clock := &manualClock{now: epoch}
	return NewIPRateLimiter(limit, window, WithClock(clock.Now), WithLogger(testutil.Logger(t))), clock
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"remote_addr", "10.0.0.1:5555", "", "10.0.0.1"},
		{"forwarded_uses_last_hop", "10.0.0.1:5555", "1.1.1.1, 2.2.2.2", "2.2.2.2"},
		{"malformed_remote_addr", "not-an-addr", "", "not-an-addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestAllow(t *testing.T) {
	rl, clock := newLimiter(t, 3, 300*time.Millisecond)
	at := func(ms int) { clock.Set(epoch.Add(time.Duration(ms) * time.Millisecond)) }

	for _, ms := range []int{0, 100, 200} {
		at(ms)
		ok, _ := rl.Allow("10.0.0.1")
		require.True(t, ok, "request at %dms", ms)
	}

	at(250)
	ok, wait := rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 50*time.Millisecond, wait)

	at(299)
	ok, _ = rl.Allow("10.0.0.1")
	assert.False(t, ok, "still three hits inside the window")

	// Rejections do not count, so the first hit leaving frees one slot.
	at(300)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok)

	at(310)
	ok, wait = rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 90*time.Millisecond, wait)

	ok, _ = rl.Allow("10.0.0.2")
	assert.True(t, ok, "clients are counted separately")
}

func TestAllowNeverExceedsLimitInAnyWindow(t *testing.T) {
	const (
		limit  = 3
		window = 300 * time.Millisecond
		step   = 10 * time.Millisecond
	)
	rl, clock := newLimiter(t, limit, window)

	var accepted []time.Time
	for i := range 200 {
		now := epoch.Add(time.Duration(i) * step)
		clock.Set(now)
		if ok, _ := rl.Allow("10.0.0.1"); ok {
			accepted = append(accepted, now)
		}
	}

	for i, start := range accepted {
		n := 0
		for _, at := range accepted[i:] {
			if at.Sub(start) < window {
				n++
			}
		}
		require.LessOrEqual(t, n, limit, "window starting at %v", start.Sub(epoch))
	}
	// 2s of traffic at one request per 10ms fills every window.
	assert.Len(t, accepted, 21)
}

func TestMiddleware(t *testing.T) {
	rl, clock := newLimiter(t, 3, time.Minute)

	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/messages", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for range 3 {
		assert.Equal(t, http.StatusOK, do("10.0.0.1:1000").Code)
	}

	clock.Set(epoch.Add(15 * time.Second))
	rec := do("10.0.0.1:1001")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "45", rec.Header().Get("Retry-After"))

	var body response.Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, 45, body.RetryAfter)

	assert.Equal(t, http.StatusOK, do("10.0.0.2:1000").Code)

	clock.Set(epoch.Add(time.Minute))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1002").Code)
}

func TestPrune(t *testing.T) {
	rl, clock := newLimiter(t, 1, time.Minute)

	rl.Allow("10.0.0.1")
	clock.Set(epoch.Add(30 * time.Second))
	rl.Allow("10.0.0.2")
	require.Equal(t, 2, rl.Tracked())

	clock.Set(epoch.Add(time.Minute))
	rl.Prune()
	assert.Equal(t, 1, rl.Tracked())

	clock.Set(epoch.Add(90 * time.Second))
	rl.Prune()
	assert.Zero(t, rl.Tracked())

	ok, _ := rl.Allow("10.0.0.1")
	assert.True(t, ok)
}

func TestRun(t *testing.T) {
	rl := NewIPRateLimiter(1, 5*time.Millisecond, WithLogger(testutil.Logger(t)))
	rl.Allow("10.0.0.1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rl.Run(ctx) }()

	assert.Eventually(t, func() bool { return rl.Tracked() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
