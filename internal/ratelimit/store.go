package ratelimit

import (
	"context"
	"time"
)

// A sliding window constraint: at most Limit events within the trailing Span
type Window struct {
	Key   string
	Limit int64
	Span  time.Duration
}

// A sliding sum constraint: entries carry a value, the values within the
// trailing Span must not exceed Max after adding Add
type SumWindow struct {
	Key  string
	Span time.Duration
	Add  float64
	Max  float64
}

// Outcome of an atomic multi-window check. FailedIndex is the index of the
// first failing window, len(windows) when the sum window failed, -1 when
// everything passed.
type WindowVerdict struct {
	Allowed     bool
	FailedIndex int
	Counts      []int64
	RetryAfter  time.Duration
}

type FixedWindowStat struct {
	Count   int64
	ResetAt time.Time
}

// Shared rate/penalty state visible to every server instance. All mutations
// within one call are atomic per key set: concurrent callers never both
// observe a pre-increment count and both get admitted for the last slot.
type Store interface {
	// Checks every window (and the optional sum window) in order. If all pass
	// and record is true, the event is inserted into every window in the same
	// atomic step. A failed check inserts nothing.
	AllowWindows(ctx context.Context, windows []Window, sum *SumWindow, record bool) (*WindowVerdict, error)

	// Current number of live events in a sliding window
	CountWindow(ctx context.Context, key string, span time.Duration) (int64, error)

	// Sum of entry values in a sliding sum window
	SumInWindow(ctx context.Context, key string, span time.Duration) (float64, error)

	// Adds an event to a sliding window, trims it, and returns the new count
	RecordEvent(ctx context.Context, key string, span time.Duration) (int64, error)

	// Fixed-window counter: increments and returns the count plus the window
	// reset time. A fresh or expired window restarts at count 1.
	IncrFixedWindow(ctx context.Context, key string, span time.Duration) (int64, time.Time, error)

	// Reads a fixed-window counter without incrementing. Returns (0, zero
	// time, nil) when no live record exists.
	FixedWindowCount(ctx context.Context, key string) (int64, time.Time, error)

	// Lists live fixed-window records matching a key pattern
	ScanFixedWindows(ctx context.Context, pattern string) (map[string]FixedWindowStat, error)

	GetPenalty(ctx context.Context, key string) (time.Time, bool, error)
	SetPenalty(ctx context.Context, key string, duration time.Duration) error
	ClearPenalty(ctx context.Context, key string) error

	Delete(ctx context.Context, keys ...string) (int64, error)
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)

	// Removes fully expired records matching a pattern; returns how many were
	// purged. Running it twice with no new events is a no-op the second time.
	PurgeExpired(ctx context.Context, pattern string) (int64, error)

	Close() error
}
