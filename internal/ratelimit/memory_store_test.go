package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixed clock the tests can advance by hand
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestStore() (*MemoryStore, *fakeClock) {
	clock := newFakeClock()
	store := NewMemoryStore()
	store.nowFn = clock.Now
	return store, clock
}

func TestAllowWindowsCountsAndRecords(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	windows := []Window{{Key: "w", Limit: 3, Span: time.Second}}

	for i := 0; i < 3; i++ {
		verdict, err := store.AllowWindows(ctx, windows, nil, true)
		require.NoError(t, err)
		assert.True(t, verdict.Allowed)
		assert.Equal(t, int64(i), verdict.Counts[0])
	}

	verdict, err := store.AllowWindows(ctx, windows, nil, true)
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, 0, verdict.FailedIndex)
}

func TestAllowWindowsRejectionDoesNotRecord(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	windows := []Window{{Key: "w", Limit: 2, Span: time.Second}}

	for i := 0; i < 2; i++ {
		_, err := store.AllowWindows(ctx, windows, nil, true)
		require.NoError(t, err)
	}

	// Hammer the limit; none of these may add to the count
	for i := 0; i < 10; i++ {
		verdict, err := store.AllowWindows(ctx, windows, nil, true)
		require.NoError(t, err)
		assert.False(t, verdict.Allowed)
	}

	count, err := store.CountWindow(ctx, "w", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestAllowWindowsSumFailureRecordsNothing(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	windows := []Window{{Key: "w", Limit: 100, Span: time.Minute}}
	sum := &SumWindow{Key: "s", Span: time.Minute, Add: 60, Max: 100}

	verdict, err := store.AllowWindows(ctx, windows, sum, true)
	require.NoError(t, err)
	require.True(t, verdict.Allowed)

	// Second 60 would push the sum over 100
	verdict, err = store.AllowWindows(ctx, windows, sum, true)
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, len(windows), verdict.FailedIndex)

	// The denied attempt must not have touched the count windows either
	count, err := store.CountWindow(ctx, "w", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	total, err := store.SumInWindow(ctx, "s", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, float64(60), total)
}

func TestWindowBoundaryEventExpires(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()

	windows := []Window{{Key: "w", Limit: 1, Span: time.Second}}

	verdict, err := store.AllowWindows(ctx, windows, nil, true)
	require.NoError(t, err)
	require.True(t, verdict.Allowed)

	// Just inside the window: still counted
	clock.Advance(999 * time.Millisecond)
	count, err := store.CountWindow(ctx, "w", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Exactly at the boundary: expired
	clock.Advance(time.Millisecond)
	count, err = store.CountWindow(ctx, "w", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestAllowWindowsRetryAfterFromOldestEvent(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()

	windows := []Window{{Key: "w", Limit: 2, Span: 10 * time.Second}}

	_, err := store.AllowWindows(ctx, windows, nil, true)
	require.NoError(t, err)

	clock.Advance(4 * time.Second)
	_, err = store.AllowWindows(ctx, windows, nil, true)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	verdict, err := store.AllowWindows(ctx, windows, nil, true)
	require.NoError(t, err)
	require.False(t, verdict.Allowed)

	// Oldest event is 6s old; it leaves the window in 4s
	assert.Equal(t, 4*time.Second, verdict.RetryAfter)
}

func TestIncrFixedWindowRestartsAfterExpiry(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()

	count, resetAt, err := store.IncrFixedWindow(ctx, "f", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, clock.Now().Add(time.Minute), resetAt)

	count, _, err = store.IncrFixedWindow(ctx, "f", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	clock.Advance(61 * time.Second)
	count, _, err = store.IncrFixedWindow(ctx, "f", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPenaltyLifecycle(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()

	_, active, err := store.GetPenalty(ctx, "p")
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, store.SetPenalty(ctx, "p", 5*time.Minute))

	expiry, active, err := store.GetPenalty(ctx, "p")
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, clock.Now().Add(5*time.Minute), expiry)

	clock.Advance(5*time.Minute + time.Second)
	_, active, err = store.GetPenalty(ctx, "p")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestDeleteByPattern(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	_, err := store.RecordEvent(ctx, "gk:msg:base:alice", time.Second)
	require.NoError(t, err)
	_, err = store.RecordEvent(ctx, "gk:msg:hourly:alice", time.Hour)
	require.NoError(t, err)
	_, err = store.RecordEvent(ctx, "gk:msg:base:bob", time.Second)
	require.NoError(t, err)
	require.NoError(t, store.SetPenalty(ctx, "gk:msg:penalty:alice", time.Minute))

	deleted, err := store.DeleteByPattern(ctx, "gk:msg:*:alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	// Bob is untouched
	count, err := store.CountWindow(ctx, "gk:msg:base:bob", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPurgeExpiredIsIdempotent(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()

	_, _, err := store.IncrFixedWindow(ctx, "gk:conn:1.2.3.4", time.Minute)
	require.NoError(t, err)
	_, _, err = store.IncrFixedWindow(ctx, "gk:conn:5.6.7.8", time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	purged, err := store.PurgeExpired(ctx, "gk:conn:*")
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	purged, err = store.PurgeExpired(ctx, "gk:conn:*")
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged)
}
