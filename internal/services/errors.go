// Package services defines the business logic for the exchange lifecycle,
// compliance strikes, and daily quotas. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the
// handler/controller layer. Quota, rate-limit and ban rejections are distinct
// values so a caller can render "upgrade your plan", "try again later", or
// "account suspended" appropriately.
package services

import "errors"

var (
	// ErrExchangeNotFound indicates that the requested exchange does not exist.
	ErrExchangeNotFound = errors.New("exchange not found")

	// ErrUnauthorized is returned when the caller is not the party an
	// operation is reserved for (e.g. accepting an exchange addressed to
	// someone else).
	ErrUnauthorized = errors.New("caller is not a party to this exchange")

	// ErrInvalidTransition is returned when an operation is not legal from
	// the exchange's current state, including any mutation of a terminal
	// exchange and post confirmations after the window has closed.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrAlreadyResolved is returned to the loser of a race on the same
	// exchange: the state the caller observed was valid, but another actor
	// (the counterpart or the expiry sweep) committed first. Unlike
	// ErrInvalidTransition it signals a benign race loss, not a logic error.
	ErrAlreadyResolved = errors.New("exchange was resolved by a concurrent action")

	// ErrQuotaExceeded is returned when the user's daily send or accept
	// quota for their plan is exhausted.
	ErrQuotaExceeded = errors.New("daily quota exceeded")

	// ErrRateLimited is returned when the external-API token bucket for an
	// identity has no tokens left.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrBanned is returned when a banned user attempts to open or accept
	// an exchange.
	ErrBanned = errors.New("account is banned")

	// ErrPlanRestricted is returned when the requester's plan does not
	// permit the requested media type.
	ErrPlanRestricted = errors.New("media type not permitted on this plan")
)
