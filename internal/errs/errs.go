// Package errs defines the sentinel error taxonomy shared across the
// backtest engine. Components wrap these sentinels with fmt.Errorf's
// %w verb so callers can classify failures with errors.Is/errors.As
// without string matching.
package errs

import "errors"

var (
	// ErrConfig marks invalid configuration or CLI arguments.
	// The CLI maps this to exit code 2.
	ErrConfig = errors.New("config error")

	// ErrDataUnavailable marks a transient or permanent provider
	// failure for a given day/ticker. The affected day is flagged
	// status=error and excluded from statistics, never coerced to
	// zero P&L.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrUniverseEmpty marks a day with no watchlist candidates.
	// The day is still eligible, with status=no_watchlist and zero
	// trades.
	ErrUniverseEmpty = errors.New("universe empty")

	// ErrStrategyRejection marks an intent rejected at sizing/fill
	// time (invalid stop, qty < 1, risk gate). Not a hard error: the
	// intent is dropped silently and the reason is recorded on a
	// rejected-intent log.
	ErrStrategyRejection = errors.New("strategy rejection")

	// ErrInvariantViolation marks a violation of invariants I1-I7,
	// including leftover open positions at end of day or a
	// reconciliation mismatch. Hard failure: no partial results are
	// trusted. The CLI maps this to exit code 4.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrProviderAuth marks an authentication failure talking to a
	// market-data provider. The triggering secret must never be
	// logged. The CLI maps this to exit code 2.
	ErrProviderAuth = errors.New("provider auth error")

	// ErrNotFound marks a normal missing-data condition (e.g. no bar
	// for a given minute), distinct from ErrDataUnavailable.
	ErrNotFound = errors.New("not found")
)

// RejectedIntent records a StrategyRejection with enough context to
// audit why an intent never became a fill.
type RejectedIntent struct {
	Ticker string
	Reason string
}

func (r RejectedIntent) Error() string {
	return "rejected intent " + r.Ticker + ": " + r.Reason
}
