package handlers

// Stable machine-readable error codes returned in the ErrorResponse envelope.
// Clients branch on these, never on the message text.
const (
	// ErrCodeBadRequest – malformed JSON body or invalid parameters.
	ErrCodeBadRequest = "bad_request"
	// ErrCodeUnauthorized – the request carried no caller identity.
	ErrCodeUnauthorized = "unauthorized"
	// ErrCodeForbidden – the caller is not a party to the resource.
	ErrCodeForbidden = "forbidden"
	// ErrCodeNotFound – no exchange with the given ID exists.
	ErrCodeNotFound = "not_found"
	// ErrCodeInvalidTransition – the operation is not legal from the
	// exchange's current state (e.g. posting after the window closed).
	ErrCodeInvalidTransition = "invalid_transition"
	// ErrCodeAlreadyResolved – a concurrent action (sweep, cancellation,
	// ban cascade) resolved the exchange first. Distinct from
	// invalid_transition so clients can treat the race loss as benign.
	ErrCodeAlreadyResolved = "already_resolved"
	// ErrCodeQuotaExceeded – the caller's daily send or accept quota is spent.
	ErrCodeQuotaExceeded = "quota_exceeded"
	// ErrCodeRateLimited – the social API token bucket is empty.
	ErrCodeRateLimited = "rate_limited"
	// ErrCodeBanned – the caller (or the counterpart) is permanently banned.
	ErrCodeBanned = "account_banned"
	// ErrCodePlanRestricted – the media type is not covered by the plan.
	ErrCodePlanRestricted = "plan_restricted"
	// ErrCodeInternal – unexpected server-side failure.
	ErrCodeInternal = "internal_error"
)
