package domain

import "errors"

// Error taxonomy. Callers classify failures with errors.Is; everything else
// is wrapped context around one of these base errors.
var (
	// ErrSymbolUnknown means the price source rejected a ticker. User input
	// error, not retryable without correction.
	ErrSymbolUnknown = errors.New("symbol not recognised by price source")

	// ErrSourceUnavailable is a transient price source failure. The next
	// scheduled update retries; nothing retries inline.
	ErrSourceUnavailable = errors.New("price source unavailable")

	// ErrRateUnavailable means the FX provider could not supply a rate.
	// Never silently defaulted to 1.0.
	ErrRateUnavailable = errors.New("exchange rate unavailable")

	// ErrInvariantViolation means a merge produced duplicate or
	// non-monotonic dates. Fatal for that position's update: it implies the
	// upstream data contract was broken.
	ErrInvariantViolation = errors.New("series invariant violation")

	// ErrNotifyFailure is a failed alert delivery. Logged and isolated,
	// never affects ledger state.
	ErrNotifyFailure = errors.New("notification delivery failed")

	// ErrPositionClosed is returned when an update is attempted against a
	// closed position.
	ErrPositionClosed = errors.New("position is closed")

	// ErrPositionNotFound is returned by repository lookups for unknown IDs.
	ErrPositionNotFound = errors.New("position not found")

	// ErrValidation is returned when caller-supplied fields fail the basic
	// sanity checks (non-positive price, zero quantity, bad dates).
	ErrValidation = errors.New("invalid input")
)
