package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrInvariantViolation marks accounting state that can only be reached
	// through a bug. Operations that detect it fail without committing.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Rejections are expected business outcomes. Callers branch on them with
// errors.Is or RejectionCodeOf; they never indicate a fault.
var (
	ErrPriceUnavailable         = errors.New("price unavailable")
	ErrZeroQuantity             = errors.New("quantity rounds to zero")
	ErrPositionTooLarge         = errors.New("position too large")
	ErrDailyLossLimitExceeded   = errors.New("daily loss limit exceeded")
	ErrConfidenceBelowThreshold = errors.New("confidence below threshold")
	ErrNoActiveSession          = errors.New("no active session")
	ErrSessionAlreadyActive     = errors.New("session already active")
	ErrSessionPaused            = errors.New("session paused")
	ErrStrategyNotEnabled       = errors.New("strategy not enabled")
	ErrInsufficientCapital      = errors.New("insufficient capital")
	ErrInvalidSignal            = errors.New("invalid signal")
)

// RejectionCode is the stable, user-facing name of a rejection.
type RejectionCode string

const (
	RejectPriceUnavailable         RejectionCode = "PriceUnavailable"
	RejectZeroQuantity             RejectionCode = "ZeroQuantity"
	RejectPositionTooLarge         RejectionCode = "PositionTooLarge"
	RejectDailyLossLimitExceeded   RejectionCode = "DailyLossLimitExceeded"
	RejectConfidenceBelowThreshold RejectionCode = "ConfidenceBelowThreshold"
	RejectNoActiveSession          RejectionCode = "NoActiveSession"
	RejectSessionAlreadyActive     RejectionCode = "SessionAlreadyActive"
	RejectSessionPaused            RejectionCode = "SessionPaused"
	RejectStrategyNotEnabled       RejectionCode = "StrategyNotEnabled"
	RejectInsufficientCapital      RejectionCode = "InsufficientCapital"
	RejectInvalidSignal            RejectionCode = "InvalidSignal"
)

var rejectionCodes = []struct {
	err  error
	code RejectionCode
}{
	{ErrPriceUnavailable, RejectPriceUnavailable},
	{ErrZeroQuantity, RejectZeroQuantity},
	{ErrPositionTooLarge, RejectPositionTooLarge},
	{ErrDailyLossLimitExceeded, RejectDailyLossLimitExceeded},
	{ErrConfidenceBelowThreshold, RejectConfidenceBelowThreshold},
	{ErrNoActiveSession, RejectNoActiveSession},
	{ErrSessionAlreadyActive, RejectSessionAlreadyActive},
	{ErrSessionPaused, RejectSessionPaused},
	{ErrStrategyNotEnabled, RejectStrategyNotEnabled},
	{ErrInsufficientCapital, RejectInsufficientCapital},
	{ErrInvalidSignal, RejectInvalidSignal},
}

// RejectionCodeOf reports the rejection code carried by err, if any.
func RejectionCodeOf(err error) (RejectionCode, bool) {
	if err == nil {
		return "", false
	}
	for _, rc := range rejectionCodes {
		if errors.Is(err, rc.err) {
			return rc.code, true
		}
	}
	return "", false
}

// IsRejection reports whether err is an expected business rejection.
func IsRejection(err error) bool {
	_, ok := RejectionCodeOf(err)
	return ok
}
