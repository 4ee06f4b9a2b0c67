package ratelimit

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

type ModelLimit struct {
	CreditsPerMinute float64
	CostCeiling      int
	Cooldown         time.Duration
}

type MessageOptions struct {
	BaseLimit  int           // Default: 5
	BaseWindow time.Duration // Default: 1s

	BurstLimit  int           // Default: 15
	BurstWindow time.Duration // Default: 10s

	HourlyLimit  int           // Default: 500
	HourlyWindow time.Duration // Default: 1h

	PenaltiesEnabled  bool
	PenaltyThreshold  int           // Default: 5
	PenaltyDuration   time.Duration // Default: 5m
	ObservationWindow time.Duration // Default: 1h

	Models map[string]ModelLimit

	KeyPrefix string
	Enabled   bool
	FailOpen  bool
}

// Per-user multi-tier message gate: penalty check, base/burst/hourly sliding
// windows, and per-model credit limits. Repeated violations escalate to a
// timed penalty that blocks everything until it expires.
type MessageLimiter struct {
	store Store

	baseLimit  int64
	baseWindow time.Duration

	burstLimit  int64
	burstWindow time.Duration

	hourlyLimit  int64
	hourlyWindow time.Duration

	penaltiesEnabled  bool
	penaltyThreshold  int64
	penaltyDuration   time.Duration
	observationWindow time.Duration

	modelMu sync.RWMutex
	models  map[string]ModelLimit

	prefix   string
	enabled  bool
	failOpen bool

	now func() time.Time
}

func NewMessageLimiter(store Store, opts MessageOptions) *MessageLimiter {
	if opts.BaseLimit <= 0 {
		opts.BaseLimit = 5
	}
	if opts.BaseWindow <= 0 {
		opts.BaseWindow = time.Second
	}
	if opts.BurstLimit <= 0 {
		opts.BurstLimit = 15
	}
	if opts.BurstWindow <= 0 {
		opts.BurstWindow = 10 * time.Second
	}
	if opts.HourlyLimit <= 0 {
		opts.HourlyLimit = 500
	}
	if opts.HourlyWindow <= 0 {
		opts.HourlyWindow = time.Hour
	}
	if opts.PenaltyThreshold <= 0 {
		opts.PenaltyThreshold = 5
	}
	if opts.PenaltyDuration <= 0 {
		opts.PenaltyDuration = 5 * time.Minute
	}
	if opts.ObservationWindow <= 0 {
		opts.ObservationWindow = time.Hour
	}

	models := make(map[string]ModelLimit, len(opts.Models))
	for name, m := range opts.Models {
		models[name] = m
	}

	return &MessageLimiter{
		store:             store,
		baseLimit:         int64(opts.BaseLimit),
		baseWindow:        opts.BaseWindow,
		burstLimit:        int64(opts.BurstLimit),
		burstWindow:       opts.BurstWindow,
		hourlyLimit:       int64(opts.HourlyLimit),
		hourlyWindow:      opts.HourlyWindow,
		penaltiesEnabled:  opts.PenaltiesEnabled,
		penaltyThreshold:  int64(opts.PenaltyThreshold),
		penaltyDuration:   opts.PenaltyDuration,
		observationWindow: opts.ObservationWindow,
		models:            models,
		prefix:            opts.KeyPrefix,
		enabled:           opts.Enabled,
		failOpen:          opts.FailOpen,
		now:               time.Now,
	}
}

func (l *MessageLimiter) baseKey(userID string) string {
	return l.prefix + "msg:base:" + userID
}

func (l *MessageLimiter) burstKey(userID string) string {
	return l.prefix + "msg:burst:" + userID
}

func (l *MessageLimiter) hourlyKey(userID string) string {
	return l.prefix + "msg:hourly:" + userID
}

func (l *MessageLimiter) modelKey(modelID, userID string) string {
	return l.prefix + "msg:model:" + modelID + ":" + userID
}

func (l *MessageLimiter) violationsKey(userID string) string {
	return l.prefix + "msg:violations:" + userID
}

func (l *MessageLimiter) penaltyKey(userID string) string {
	return l.prefix + "msg:penalty:" + userID
}

// Decides whether userID may send a message right now. Checks run in order,
// first failure wins: active penalty, base rate, burst rate, hourly cap,
// per-request cost ceiling, then the model's credits-per-minute budget.
// An accepted message is recorded into every window in one atomic store
// call; a rejected one is recorded into none.
func (l *MessageLimiter) CanSendMessage(ctx context.Context, userID, modelID string, creditCost int) *Result {
	if !l.enabled {
		return Allow()
	}

	if penalized := l.checkPenalty(ctx, userID); penalized != nil {
		return penalized
	}

	var model *ModelLimit
	if modelID != "" && modelID != "default" {
		l.modelMu.RLock()
		if m, ok := l.models[modelID]; ok {
			model = &m
		}
		l.modelMu.RUnlock()
	}

	// The ceiling is a stateless check; it only decides whether this
	// message may be recorded.
	ceilingExceeded := model != nil && creditCost > model.CostCeiling

	windows := []Window{
		{Key: l.baseKey(userID), Limit: l.baseLimit, Span: l.baseWindow},
		{Key: l.burstKey(userID), Limit: l.burstLimit, Span: l.burstWindow},
		{Key: l.hourlyKey(userID), Limit: l.hourlyLimit, Span: l.hourlyWindow},
	}

	var sum *SumWindow
	if model != nil {
		sum = &SumWindow{
			Key:  l.modelKey(modelID, userID),
			Span: time.Minute,
			Add:  float64(creditCost),
			Max:  model.CreditsPerMinute,
		}
	}

	verdict, err := l.store.AllowWindows(ctx, windows, sum, !ceilingExceeded)
	if err != nil {
		return l.storeFailure(userID, err)
	}

	if !verdict.Allowed {
		switch verdict.FailedIndex {
		case 0:
			l.recordViolation(ctx, userID, ReasonBaseLimit)
			return Deny(ReasonBaseLimit,
				"You're sending messages too quickly. Wait a second.",
				retrySeconds(verdict.RetryAfter, l.baseWindow))
		case 1:
			l.recordViolation(ctx, userID, ReasonBurstLimit)
			return Deny(ReasonBurstLimit,
				"Too many messages in a short period. Wait 10 seconds.",
				retrySeconds(verdict.RetryAfter, l.burstWindow))
		case 2:
			l.recordViolation(ctx, userID, ReasonHourlyLimit)
			return Deny(ReasonHourlyLimit,
				fmt.Sprintf("You've reached your hourly message limit (%d). Wait a while.", l.hourlyLimit),
				retrySeconds(verdict.RetryAfter, l.hourlyWindow))
		default:
			// Sum window failed; by check order the ceiling wins when both
			// would deny.
			if ceilingExceeded {
				return l.denyCeiling(modelID, model)
			}
			l.recordViolation(ctx, userID, ReasonModelLimit)
			return Deny(ReasonModelLimit,
				fmt.Sprintf("Credit limit for %s reached. Wait %d seconds.", modelID, int(model.Cooldown.Seconds())),
				int(math.Ceil(model.Cooldown.Seconds())))
		}
	}

	if ceilingExceeded {
		return l.denyCeiling(modelID, model)
	}

	result := Allow()
	if len(verdict.Counts) == 3 {
		result.Remaining = &Remaining{
			Base:   maxInt64(0, l.baseLimit-verdict.Counts[0]-1),
			Hourly: maxInt64(0, l.hourlyLimit-verdict.Counts[2]-1),
		}
	}

	return result
}

func (l *MessageLimiter) denyCeiling(modelID string, model *ModelLimit) *Result {
	return Deny(ReasonCostCeiling,
		fmt.Sprintf("A single %s request may cost at most %d credits.", modelID, model.CostCeiling),
		0)
}

func (l *MessageLimiter) checkPenalty(ctx context.Context, userID string) *Result {
	if !l.penaltiesEnabled {
		return nil
	}

	expiry, active, err := l.store.GetPenalty(ctx, l.penaltyKey(userID))
	if err != nil {
		return l.storeFailure(userID, err)
	}
	if !active {
		return nil
	}

	remaining := expiry.Sub(l.now())
	if remaining <= 0 {
		return nil
	}

	return Deny(ReasonPenalty,
		"You've been temporarily blocked for spamming. Wait before sending more messages.",
		int(math.Ceil(remaining.Seconds())))
}

// Counts a violation; crossing the threshold within the observation window
// escalates to a timed penalty and resets the violation count.
func (l *MessageLimiter) recordViolation(ctx context.Context, userID, kind string) {
	if !l.penaltiesEnabled {
		return
	}

	count, err := l.store.RecordEvent(ctx, l.violationsKey(userID), l.observationWindow)
	if err != nil {
		log.Printf("ERROR: failed to record violation for %s: %v", userID, err)
		return
	}

	if count < l.penaltyThreshold {
		return
	}

	if err := l.store.SetPenalty(ctx, l.penaltyKey(userID), l.penaltyDuration); err != nil {
		log.Printf("ERROR: failed to apply penalty for %s: %v", userID, err)
		return
	}

	if _, err := l.store.Delete(ctx, l.violationsKey(userID)); err != nil {
		log.Printf("ERROR: failed to clear violations for %s: %v", userID, err)
	}

	log.Printf("Penalty applied to %s: %d violations (%s), blocked for %v",
		userID, count, kind, l.penaltyDuration)
}

func (l *MessageLimiter) storeFailure(userID string, err error) *Result {
	log.Printf("ERROR: message limiter store failure for %s: %v", userID, err)

	if l.failOpen {
		return Allow()
	}

	return Deny(ReasonStoreError, "Message gate unavailable. Try again shortly.", 1)
}

type UserStats struct {
	BaseCount     int64              `json:"base_count"`
	BurstCount    int64              `json:"burst_count"`
	LastHour      int64              `json:"last_hour"`
	Violations    int64              `json:"violations"`
	IsPenalized   bool               `json:"is_penalized"`
	PenaltyEndsIn int                `json:"penalty_ends_in,omitempty"` // seconds
	Models        map[string]float64 `json:"models"`                    // credits used in the last minute
}

func (l *MessageLimiter) UserStats(ctx context.Context, userID string) (*UserStats, error) {
	stats := &UserStats{Models: make(map[string]float64)}

	var err error
	if stats.BaseCount, err = l.store.CountWindow(ctx, l.baseKey(userID), l.baseWindow); err != nil {
		return nil, err
	}
	if stats.BurstCount, err = l.store.CountWindow(ctx, l.burstKey(userID), l.burstWindow); err != nil {
		return nil, err
	}
	if stats.LastHour, err = l.store.CountWindow(ctx, l.hourlyKey(userID), l.hourlyWindow); err != nil {
		return nil, err
	}
	if stats.Violations, err = l.store.CountWindow(ctx, l.violationsKey(userID), l.observationWindow); err != nil {
		return nil, err
	}

	expiry, active, err := l.store.GetPenalty(ctx, l.penaltyKey(userID))
	if err != nil {
		return nil, err
	}
	if active {
		stats.IsPenalized = true
		stats.PenaltyEndsIn = int(math.Ceil(expiry.Sub(l.now()).Seconds()))
	}

	l.modelMu.RLock()
	names := make([]string, 0, len(l.models))
	for name := range l.models {
		names = append(names, name)
	}
	l.modelMu.RUnlock()

	for _, name := range names {
		credits, err := l.store.SumInWindow(ctx, l.modelKey(name, userID), time.Minute)
		if err != nil {
			return nil, err
		}
		stats.Models[name] = credits
	}

	return stats, nil
}

// Admin override: clears every window, violation, and penalty for a user.
// Returns how many records were removed.
func (l *MessageLimiter) ResetUserLimits(ctx context.Context, userID, actorID string) (int64, error) {
	deleted, err := l.store.DeleteByPattern(ctx, l.prefix+"msg:*:"+userID)
	if err != nil {
		return 0, err
	}

	log.Printf("Rate limits reset for user %s by %s (%d records cleared)", userID, actorID, deleted)
	return deleted, nil
}

func (l *MessageLimiter) SetModelLimit(name string, limit ModelLimit) {
	l.modelMu.Lock()
	defer l.modelMu.Unlock()
	l.models[name] = limit
}

func (l *MessageLimiter) RemoveModelLimit(name string) {
	l.modelMu.Lock()
	defer l.modelMu.Unlock()
	delete(l.models, name)
}

func (l *MessageLimiter) ModelLimits() map[string]ModelLimit {
	l.modelMu.RLock()
	defer l.modelMu.RUnlock()

	out := make(map[string]ModelLimit, len(l.models))
	for name, m := range l.models {
		out[name] = m
	}
	return out
}

// Releases the shared-store connection
func (l *MessageLimiter) Disconnect() error {
	return l.store.Close()
}

func retrySeconds(retry, window time.Duration) int {
	if retry <= 0 {
		retry = window
	}
	return int(math.Ceil(retry.Seconds()))
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
