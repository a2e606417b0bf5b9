package tenantauth

import (
	"errors"
	"fmt"
)

var (
	// ErrValidationFailed is returned for input that fails shape or policy
	// checks. Wrapped errors carry the offending field.
	ErrValidationFailed = errors.New("validation failed")
	// ErrDuplicate is returned when a username, email, tenant code or plan
	// name is already taken.
	ErrDuplicate = errors.New("duplicate")
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrTenantInactive     = errors.New("tenant inactive")
	ErrPrincipalInactive  = errors.New("principal inactive")
	// ErrQuotaExceeded is matched by every *QuotaError.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrNoActivePlan is matched by a *QuotaError whose reason is
	// no-active-plan and returned by EffectivePlanAt.
	ErrNoActivePlan = errors.New("no active plan")

	// ErrTokenRejected is the single opaque error callers see for any token
	// problem. The three specific errors below wrap it.
	ErrTokenRejected   = errors.New("token rejected")
	ErrTokenInvalid    = fmt.Errorf("%w: invalid", ErrTokenRejected)
	ErrTokenExpired    = fmt.Errorf("%w: expired", ErrTokenRejected)
	ErrTokenWrongClass = fmt.Errorf("%w: wrong class", ErrTokenRejected)

	ErrSecondFactorInvalid     = errors.New("second factor invalid")
	ErrSecondFactorEnabled     = errors.New("second factor already enabled")
	ErrSecondFactorNotEnabled  = errors.New("second factor not enabled")
	ErrSecondFactorNoEnrolment = errors.New("no pending second factor enrollment")
	ErrChallengeInvalid        = errors.New("challenge invalid")
	ErrChallengeExpired        = errors.New("challenge expired")

	ErrIllegalTransition = errors.New("illegal transition")
	ErrNotFound          = errors.New("not found")
	ErrStoreUnavailable  = errors.New("store unavailable")
	// ErrInternal hides unexpected failures. The cause is logged with the
	// request correlation id.
	ErrInternal       = errors.New("internal error")
	ErrEngineNotReady = errors.New("engine not initialized")
)

// QuotaReason explains a denied quota decision.
type QuotaReason string

const (
	QuotaReasonNone         QuotaReason = ""
	QuotaReasonNoActivePlan QuotaReason = "no-active-plan"
	QuotaReasonLimitReached QuotaReason = "limit-reached"
)

// QuotaError is returned when a create is refused by the tenant's plan.
// Limit and Current are only set for QuotaReasonLimitReached.
type QuotaError struct {
	Kind    ResourceKind
	Reason  QuotaReason
	Limit   int64
	Current int64
}

func (e *QuotaError) Error() string {
	if e.Reason == QuotaReasonNoActivePlan {
		return fmt.Sprintf("quota exceeded: %s: no active plan", e.Kind)
	}
	return fmt.Sprintf("quota exceeded: %s: limit %d, current %d", e.Kind, e.Limit, e.Current)
}

func (e *QuotaError) Is(target error) bool {
	switch target {
	case ErrQuotaExceeded:
		return true
	case ErrNoActivePlan:
		return e.Reason == QuotaReasonNoActivePlan
	}
	return false
}
