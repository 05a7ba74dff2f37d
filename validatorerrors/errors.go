// Package validatorerrors defines the error taxonomy shared by every
// validator-core component: sentinel kinds wrapped with context so callers
// can branch on `errors.Is` instead of parsing strings.
package validatorerrors

import "errors"

// Kinds, not concrete types: errors of one of these kinds wrap the matching
// sentinel via fmt.Errorf("...: %w", KindX). Errors outside these kinds
// (e.g. balances.Error) wrap none of them.
var (
	// ErrConfiguration covers bad keystore, missing peer URL, whoami not a
	// validator of the channel. Fatal at init.
	ErrConfiguration = errors.New("configuration")

	// ErrAuthentication covers a failed token mint/verify; surfaces as
	// HTTP 401 at the Sentry boundary.
	ErrAuthentication = errors.New("authentication")

	// ErrSignature covers malformed hex, wrong length, or a signature that
	// does not recover the expected address. Non-fatal, causes RejectState.
	ErrSignature = errors.New("signature")

	// ErrInvalidChannel covers a channel failing structural or on-chain
	// checks. The channel is skipped, not retried.
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrInvalidTransition covers balances violating monotonicity or
	// conservation. Causes RejectState, channel marked stalled.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrRequest covers transport or JSON failures talking to Sentry.
	// Retried on the next tick.
	ErrRequest = errors.New("request")

	// ErrTimeout covers a per-tick budget exhausted. Logged, retried next
	// iteration.
	ErrTimeout = errors.New("timeout")
)

// Is reports whether err ultimately wraps kind, so callers can write
// validatorerrors.Is(err, validatorerrors.ErrInvalidTransition) without
// importing errors directly.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
