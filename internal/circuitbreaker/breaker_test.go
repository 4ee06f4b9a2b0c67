package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestClosedPassesCallsThrough(t *testing.T) {
	cb := New(Config{MaxFailures: 3, Timeout: time.Minute})

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, StateClosed, cb.State())
}

func TestOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 3, Timeout: time.Minute})

	for i := 0; i < 3; i++ {
		err := cb.Call(func() error { return errBoom })
		assert.ErrorIs(t, err, errBoom)
	}

	assert.Equal(t, StateOpen, cb.State())

	err := cb.Call(func() error {
		t.Fatal("call should have been short-circuited")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{MaxFailures: 3, Timeout: time.Minute})

	cb.Call(func() error { return errBoom })
	cb.Call(func() error { return errBoom })
	require.NoError(t, cb.Call(func() error { return nil }))

	// Two more failures should not open a freshly reset breaker
	cb.Call(func() error { return errBoom })
	cb.Call(func() error { return errBoom })
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbeRecovers(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond})

	cb.Call(func() error { return errBoom })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	cb := New(Config{MaxFailures: 5, Timeout: 10 * time.Millisecond})

	for i := 0; i < 5; i++ {
		cb.Call(func() error { return errBoom })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	err := cb.Call(func() error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestManualReset(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: time.Hour})

	cb.Call(func() error { return errBoom })
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())

	require.NoError(t, cb.Call(func() error { return nil }))
}
