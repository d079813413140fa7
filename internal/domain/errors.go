package domain

import "errors"

// Exchange failure taxonomy. The gateway maps every transport/API failure
// onto exactly one of these so callers can decide retry vs abort with
// errors.Is instead of string matching.
var (
	// ErrAuthFailure means the request could not be authenticated.
	// Fatal for the scheduler; never retried.
	ErrAuthFailure = errors.New("exchange: authentication failure")

	// ErrRejectedByExchange is a business-rule rejection (insufficient
	// margin, bad quantity, symbol suspended). Not retryable.
	ErrRejectedByExchange = errors.New("exchange: rejected")

	// ErrRateLimited means the exchange asked us to slow down. Retryable
	// with backoff.
	ErrRateLimited = errors.New("exchange: rate limited")

	// ErrTransient covers timeouts and connection errors on reads.
	// Retryable.
	ErrTransient = errors.New("exchange: transient failure")

	// ErrOutcomeUnknown means a mutating call timed out after the request
	// may have reached the exchange. The caller must reconcile by querying
	// exchange state before acting on the same symbol again.
	ErrOutcomeUnknown = errors.New("exchange: outcome unknown")

	// ErrMalformedResponse means the exchange answered with a body we
	// could not validate into a typed result.
	ErrMalformedResponse = errors.New("exchange: malformed response")

	// ErrNoSuchPosition is returned when a reduce-only close is rejected
	// because the exchange holds no position for the symbol. Callers treat
	// it as "already closed" to stay consistent with reality.
	ErrNoSuchPosition = errors.New("exchange: no such position")
)

// Position store and ledger errors.
var (
	ErrDuplicatePosition  = errors.New("position: symbol already has an open position")
	ErrCapitalRejected    = errors.New("ledger: capital commit denied")
	ErrNotFound           = errors.New("position: not found")
	ErrAlreadyClosing     = errors.New("position: already closing")
	ErrInvariantViolation = errors.New("invariant violation")
)

// Retryable reports whether err is one of the classes the retry helper is
// allowed to re-attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}
