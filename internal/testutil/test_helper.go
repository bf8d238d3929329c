// Package testutil holds helpers shared by package tests.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

// Logger returns a logger for tests. Output goes to stderr under -v and is
// discarded otherwise. Background goroutines may outlive the test, so t.Log
// is not used.
func Logger(t testing.TB) *slog.Logger {
	t.Helper()
	if !testing.Verbose() {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// StepClock returns a clock that starts at start and advances by step on
// every call. It is safe for concurrent use.
func StepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}
