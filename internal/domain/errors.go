package domain

import (
	"errors"
	"fmt"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Market / resolution errors
var (
	// ErrMarketNotFound is returned when no market matches the given criteria.
	ErrMarketNotFound = errors.New("market not found")

	// ErrMarketAlreadyResolved is returned when a resolve, cancel or preview is
	// attempted on a market that has already been resolved.
	ErrMarketAlreadyResolved = errors.New("market is already resolved")

	// ErrMarketCancelled is returned when an operation targets a cancelled market.
	ErrMarketCancelled = errors.New("market is cancelled")

	// ErrInvalidWinner is returned when the winning option id is not one of the
	// market's options.
	ErrInvalidWinner = errors.New("winning option is not one of the market options")

	// ErrInsufficientEvidence is returned when the evidence submitted with a
	// resolution does not meet the minimum bar (at least one item carrying a
	// parseable URL or a usable description).
	ErrInsufficientEvidence = errors.New("insufficient resolution evidence")

	// ErrInvalidFeeConfiguration is returned when the house and creator fee
	// fractions are out of range or sum past the whole pool.
	ErrInvalidFeeConfiguration = errors.New("invalid fee configuration")
)

// Distribution errors
var (
	// ErrDistributionNotFound is returned when no payout distribution matches the
	// given criteria.
	ErrDistributionNotFound = errors.New("payout distribution not found")

	// ErrAlreadyRolledBack is returned when a rollback targets a distribution
	// that is already rolled back.
	ErrAlreadyRolledBack = errors.New("distribution is already rolled back")

	// ErrDistributionVerificationFailed is returned when one of the in-transaction
	// verification checks fails during payout application. The transaction is
	// aborted; no partial payouts survive.
	ErrDistributionVerificationFailed = errors.New("distribution verification failed")

	// ErrCalculatorInvariantViolated is returned when the payout calculator's
	// self-verification fails (conservation, rounding closure, duplicates).
	ErrCalculatorInvariantViolated = errors.New("payout calculator invariant violated")
)

// Ledger errors
var (
	// ErrBalanceNotFound is returned when a balance read finds no row for the
	// user. Reads never lazily create balances.
	ErrBalanceNotFound = errors.New("user balance not found")

	// ErrInsufficientFunds is returned when a ledger operation would drive
	// available or committed tokens negative.
	ErrInsufficientFunds = errors.New("insufficient token balance")
)

// Store / concurrency errors
var (
	// ErrConcurrencyExhausted is returned when a serializable transaction keeps
	// conflicting past the configured retry limit.
	ErrConcurrencyExhausted = errors.New("transaction retries exhausted")

	// ErrStoreFatal is returned for non-transient storage failures (connection
	// loss, constraint corruption). Callers must not retry.
	ErrStoreFatal = errors.New("fatal store error")
)

// Auth / input errors
var (
	// ErrUnauthorized is returned when the caller is not an authorized operator
	// for the attempted action.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the authenticated operator lacks the
	// administrative capability an action requires.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrTokenExpired is returned when a JWT has passed its TTL.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or its signature
	// does not match.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrInvalidInput is returned for malformed requests (bad ids, unparseable
	// bodies, out-of-range paging).
	ErrInvalidInput = errors.New("invalid input")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// notFoundErrors collects all "entity not found" sentinel errors so that
// IsNotFound can stay in sync automatically.
var notFoundErrors = []error{
	ErrMarketNotFound,
	ErrDistributionNotFound,
	ErrBalanceNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors. Use this instead of comparing error values directly
// when you need to translate domain errors to HTTP 404 responses.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict (double
// resolution, rollback of a rolled-back distribution, contended claims).
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrMarketAlreadyResolved,
		ErrMarketCancelled,
		ErrAlreadyRolledBack,
		ErrConcurrencyExhausted,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsInvalidInput returns true for request-shaped failures that map to HTTP 400.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsUnauthorized returns true for authentication/authorisation errors.
func IsUnauthorized(err error) bool {
	authErrors := []error{
		ErrUnauthorized,
		ErrForbidden,
		ErrTokenExpired,
		ErrTokenInvalid,
	}
	for _, target := range authErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsInsufficient returns true for semantic rejections (evidence below the bar,
// invalid winner, fee misconfiguration, funds short). These map to HTTP 422.
func IsInsufficient(err error) bool {
	insufficientErrors := []error{
		ErrInsufficientEvidence,
		ErrInvalidWinner,
		ErrInvalidFeeConfiguration,
		ErrInsufficientFunds,
	}
	for _, target := range insufficientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsInvariantViolation returns true when an internal consistency check
// failed. These are bugs or data corruption, never caller mistakes.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrCalculatorInvariantViolated) ||
		errors.Is(err, ErrDistributionVerificationFailed)
}

// IsRetryable returns true when the caller may retry the whole operation and
// expect a different outcome. Only concurrency exhaustion qualifies; fatal
// store errors and invariant violations never do.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyExhausted)
}

// ──────────────────────────────────────────────────────────────────────────────
// OpError — structured engine failure
// ──────────────────────────────────────────────────────────────────────────────

// OpError annotates an engine failure with the operation name, the generated
// operation id and the stage that failed. The wrapped sentinel stays reachable
// through errors.Is / errors.As.
type OpError struct {
	Op          string // "resolve", "rollback", "cancel", "reconcile"
	OperationID string
	Stage       string // "validate", "claim", "compute", "apply", ...
	Err         error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s [op=%s stage=%s]: %v", e.Op, e.OperationID, e.Stage, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
