package ratelimit

// Denial reasons surfaced to callers
const (
	ReasonPenalty            = "penalty"
	ReasonBaseLimit          = "base_limit"
	ReasonBurstLimit         = "burst_limit"
	ReasonHourlyLimit        = "hourly_limit"
	ReasonCostCeiling        = "cost_ceiling"
	ReasonModelLimit         = "model_limit"
	ReasonConnectionLimit    = "connection_limit"
	ReasonStoreError         = "store_error"
	ReasonInsufficientCredit = "insufficient_credit"
	ReasonCreditServiceError = "credit_service_error"
)

// Structured allow/deny decision. Expected denials are results, never errors.
type Result struct {
	Allowed    bool       `json:"allowed"`
	Reason     string     `json:"reason,omitempty"`
	Message    string     `json:"message,omitempty"`
	RetryAfter int        `json:"retry_after,omitempty"` // seconds
	Remaining  *Remaining `json:"remaining,omitempty"`
}

// Slots left in the base and hourly windows after an allowed message
type Remaining struct {
	Base   int64 `json:"base"`
	Hourly int64 `json:"hourly"`
}

func Allow() *Result {
	return &Result{Allowed: true}
}

func Deny(reason, message string, retryAfter int) *Result {
	return &Result{
		Allowed:    false,
		Reason:     reason,
		Message:    message,
		RetryAfter: retryAfter,
	}
}
