package gatekeeper

import (
	"context"
	"log"

	"github.com/bezhas/chat-gatekeeper/internal/circuitbreaker"
	"github.com/bezhas/chat-gatekeeper/internal/ratelimit"
)

// External credit ledger. Balance reads and debits belong to the credit
// service; the gatekeeper only consumes them.
type CreditService interface {
	Balance(ctx context.Context, userID string) (int, error)
	Debit(ctx context.Context, userID string, amount int, reason string) error
}

// The single decision point for the chat layer: merges the message limiter's
// verdict with the credit balance check. Rate limiting runs first - the cheap
// check before the expensive one.
type Gatekeeper struct {
	limiter *ratelimit.MessageLimiter
	credits CreditService
	breaker *circuitbreaker.CircuitBreaker
}

func New(limiter *ratelimit.MessageLimiter, credits CreditService) *Gatekeeper {
	return &Gatekeeper{
		limiter: limiter,
		credits: credits,
		breaker: circuitbreaker.New(circuitbreaker.Config{}),
	}
}

// Checks rate limits, then the user's balance, then issues the debit. Rate
// denials are returned unchanged. Any credit service failure fails closed:
// nothing is charged and the action is denied.
func (g *Gatekeeper) CheckAndCharge(ctx context.Context, userID, modelID string, estimatedCost int) *ratelimit.Result {
	verdict := g.limiter.CanSendMessage(ctx, userID, modelID, estimatedCost)
	if !verdict.Allowed {
		return verdict
	}

	var balance int
	err := g.breaker.Call(func() error {
		var err error
		balance, err = g.credits.Balance(ctx, userID)
		return err
	})
	if err != nil {
		log.Printf("ERROR: credit balance check failed for %s: %v", userID, err)
		return ratelimit.Deny(ratelimit.ReasonCreditServiceError,
			"Credit service unavailable. Try again shortly.", 0)
	}

	if balance < estimatedCost {
		return ratelimit.Deny(ratelimit.ReasonInsufficientCredit,
			"Insufficient credit. Top up to keep chatting.", 0)
	}

	err = g.breaker.Call(func() error {
		return g.credits.Debit(ctx, userID, estimatedCost, "chat_usage")
	})
	if err != nil {
		log.Printf("ERROR: credit debit failed for %s: %v", userID, err)
		return ratelimit.Deny(ratelimit.ReasonCreditServiceError,
			"Credit service unavailable. Try again shortly.", 0)
	}

	return verdict
}

// Exposes the underlying limiter for stats and admin resets
func (g *Gatekeeper) Limiter() *ratelimit.MessageLimiter {
	return g.limiter
}

func (g *Gatekeeper) BreakerState() circuitbreaker.State {
	return g.breaker.State()
}
