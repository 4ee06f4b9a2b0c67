package gatekeeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bezhas/chat-gatekeeper/internal/circuitbreaker"
	"github.com/bezhas/chat-gatekeeper/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCredits struct {
	balance     int
	balanceErr  error
	debitErr    error
	balanceHits int
	debits      []int
}

func (f *fakeCredits) Balance(ctx context.Context, userID string) (int, error) {
	f.balanceHits++
	return f.balance, f.balanceErr
}

func (f *fakeCredits) Debit(ctx context.Context, userID string, amount int, reason string) error {
	if f.debitErr != nil {
		return f.debitErr
	}
	f.debits = append(f.debits, amount)
	f.balance -= amount
	return nil
}

func newTestGate(credits *fakeCredits, opts ratelimit.MessageOptions) *Gatekeeper {
	limiter := ratelimit.NewMessageLimiter(ratelimit.NewMemoryStore(), opts)
	return New(limiter, credits)
}

func enabledOptions() ratelimit.MessageOptions {
	return ratelimit.MessageOptions{
		BaseLimit:    5,
		BaseWindow:   time.Second,
		BurstLimit:   15,
		BurstWindow:  10 * time.Second,
		HourlyLimit:  500,
		HourlyWindow: time.Hour,
		Enabled:      true,
	}
}

func TestCheckAndChargeHappyPath(t *testing.T) {
	credits := &fakeCredits{balance: 100}
	gate := newTestGate(credits, enabledOptions())

	result := gate.CheckAndCharge(context.Background(), "alice", "", 10)
	require.True(t, result.Allowed)
	assert.Equal(t, []int{10}, credits.debits)
	assert.Equal(t, 90, credits.balance)
}

func TestRateDenialSkipsCreditService(t *testing.T) {
	credits := &fakeCredits{balance: 1000}
	gate := newTestGate(credits, enabledOptions())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, gate.CheckAndCharge(ctx, "alice", "", 1).Allowed)
	}

	result := gate.CheckAndCharge(ctx, "alice", "", 1)
	require.False(t, result.Allowed)
	assert.Equal(t, ratelimit.ReasonBaseLimit, result.Reason)

	// The cheap check failed; the expensive one never ran
	assert.Equal(t, 5, credits.balanceHits)
	assert.Len(t, credits.debits, 5)
}

func TestInsufficientCredit(t *testing.T) {
	credits := &fakeCredits{balance: 5}
	gate := newTestGate(credits, enabledOptions())

	result := gate.CheckAndCharge(context.Background(), "alice", "", 10)
	require.False(t, result.Allowed)
	assert.Equal(t, ratelimit.ReasonInsufficientCredit, result.Reason)
	assert.Empty(t, credits.debits)
}

func TestBalanceErrorFailsClosed(t *testing.T) {
	credits := &fakeCredits{balanceErr: errors.New("connection refused")}
	gate := newTestGate(credits, enabledOptions())

	result := gate.CheckAndCharge(context.Background(), "alice", "", 1)
	require.False(t, result.Allowed)
	assert.Equal(t, ratelimit.ReasonCreditServiceError, result.Reason)
	assert.Empty(t, credits.debits)
}

func TestDebitErrorFailsClosed(t *testing.T) {
	credits := &fakeCredits{balance: 100, debitErr: errors.New("timeout")}
	gate := newTestGate(credits, enabledOptions())

	result := gate.CheckAndCharge(context.Background(), "alice", "", 1)
	require.False(t, result.Allowed)
	assert.Equal(t, ratelimit.ReasonCreditServiceError, result.Reason)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	credits := &fakeCredits{balanceErr: errors.New("connection refused")}
	gate := newTestGate(credits, enabledOptions())
	ctx := context.Background()

	// Spread users so rate limits never interfere
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6"}
	for _, u := range users {
		result := gate.CheckAndCharge(ctx, u, "", 1)
		require.False(t, result.Allowed)
		assert.Equal(t, ratelimit.ReasonCreditServiceError, result.Reason)
	}

	assert.Equal(t, circuitbreaker.StateOpen, gate.BreakerState())

	// While open the credit service is no longer called
	before := credits.balanceHits
	gate.CheckAndCharge(ctx, "u7", "", 1)
	assert.Equal(t, before, credits.balanceHits)
}
