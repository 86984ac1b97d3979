package ledger

import "errors"

// Validation errors: the input is malformed regardless of state.
var (
	ErrEmptyNullifier = errors.New("identity nullifier is empty")
	ErrBadSeverity    = errors.New("severity out of range")
)

// Policy violations: well-formed input rejected by the anti-abuse rules.
// Each carries a distinct reason the caller can match on.
var (
	ErrNullifierUsed          = errors.New("identity nullifier already consumed")
	ErrReporterBlocked        = errors.New("reporter is blocked")
	ErrDuplicateOpenReport    = errors.New("reporter already has an open report for this item")
	ErrTooManyOpenReports     = errors.New("reporter reached the open report limit")
	ErrCooldownActive         = errors.New("reporter cooldown has not elapsed")
	ErrInsufficientReputation = errors.New("reputation too low for this severity")
	ErrInsufficientStake      = errors.New("stake below the severity tier minimum")
)

// Lookup and lifecycle errors.
var (
	ErrItemNotFound    = errors.New("item not found in registry")
	ErrReportNotFound  = errors.New("report not found")
	ErrAlreadyResolved = errors.New("report already resolved")
)

// Value movement errors.
var (
	ErrTransferFailed  = errors.New("payout transfer failed")
	ErrInsufficientPool = errors.New("pool balance too low")
	ErrPoolOverflow     = errors.New("pool balance overflow")
)

var policyViolations = []error{
	ErrNullifierUsed,
	ErrReporterBlocked,
	ErrDuplicateOpenReport,
	ErrTooManyOpenReports,
	ErrCooldownActive,
	ErrInsufficientReputation,
	ErrInsufficientStake,
}

// IsValidationError reports whether the error rejects malformed input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyNullifier) || errors.Is(err, ErrBadSeverity)
}

// IsPolicyViolation reports whether the error is an anti-abuse rejection.
func IsPolicyViolation(err error) bool {
	for _, pv := range policyViolations {
		if errors.Is(err, pv) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether the error refers to a missing item or report.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) || errors.Is(err, ErrReportNotFound)
}

// IsStateConflict reports whether the error is an illegal lifecycle
// transition.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrAlreadyResolved)
}

// IsTransferFailure reports whether a value movement failed. The operation
// was fully rolled back, so a retry is safe.
func IsTransferFailure(err error) bool {
	return errors.Is(err, ErrTransferFailed)
}
