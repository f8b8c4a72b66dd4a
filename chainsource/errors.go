package chainsource

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Code classifies a chain source failure so callers can branch on failure
// kind without string matching.
type Code int

const (
	// WalletOperationFailed indicates a backend call the on-chain wallet
	// depends on (e.g. a full scan) returned an error.
	WalletOperationFailed Code = iota

	// WalletOperationTimeout indicates the same class of call exceeded
	// its deadline instead of returning an error.
	WalletOperationTimeout

	// TxSyncFailed indicates a Lightning wallet (Confirm-capable) sync
	// call returned an error.
	TxSyncFailed

	// TxSyncTimeout indicates the same class of call exceeded its
	// deadline.
	TxSyncTimeout

	// FeeRateEstimationUpdateFailed indicates a fee-rate estimation
	// round returned an error from the backend.
	FeeRateEstimationUpdateFailed

	// FeeRateEstimationUpdateTimeout indicates a fee-rate estimation
	// round exceeded its deadline.
	FeeRateEstimationUpdateTimeout

	// PersistenceFailed indicates a metrics or state write to the
	// configured Persistence collaborator failed.
	PersistenceFailed
)

func (c Code) String() string {
	switch c {
	case WalletOperationFailed:
		return "wallet operation failed"
	case WalletOperationTimeout:
		return "wallet operation timed out"
	case TxSyncFailed:
		return "transaction sync failed"
	case TxSyncTimeout:
		return "transaction sync timed out"
	case FeeRateEstimationUpdateFailed:
		return "fee rate estimation update failed"
	case FeeRateEstimationUpdateTimeout:
		return "fee rate estimation update timed out"
	case PersistenceFailed:
		return "persistence failed"
	default:
		return "unknown chain source error"
	}
}

// Error is the concrete error type every sync, fee-update and broadcast
// path in this package returns. It carries a Code for programmatic
// handling plus a wrapped cause for diagnostics.
type Error struct {
	Code  Code
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// newError wraps cause under code. A nil cause is valid for pure timeout
// errors that carry no underlying failure.
func newError(code Code, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

// bugf builds an internal-invariant-violation error carrying a captured
// stack trace, so a log line pointing at a generic "got unexpected txid"
// message can still be traced back to the goroutine that raised it.
// Panicking in a long-running background loop would take the whole node
// down over a recoverable accounting mismatch, so these are logged and
// returned as an ordinary error instead.
func bugf(format string, args ...interface{}) error {
	return goerrors.Errorf("internal invariant violated: "+format, args...)
}
