package tenantauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/tenantauth/store"
)

// write runs fn detached from the caller's cancellation and bounded by
// Store.WriteTimeout. A committed write is never abandoned half way because
// the client went away. ErrConflict is retried up to Store.MaxRetries times.
func (e *Engine) write(ctx context.Context, op string, fn func(context.Context) error) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Store.WriteTimeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		err := fn(wctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return e.storeError(ctx, op, err)
		}
		if attempt >= e.config.Store.MaxRetries {
			e.log(ctx).Warn("store conflict retries exhausted",
				slog.String("op", op),
				slog.Int("attempts", attempt+1),
			)
			return fmt.Errorf("%w: %s", ErrStoreUnavailable, op)
		}
		e.metricInc(MetricStoreRetry)

		backoff := e.config.Store.RetryBackoff * time.Duration(attempt+1)
		if backoff <= 0 {
			continue
		}
		timer := time.NewTimer(backoff)
		select {
		case <-wctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %s", ErrStoreUnavailable, op)
		case <-timer.C:
		}
	}
}

// storeError maps a store error onto the public taxonomy. Errors that are
// already public pass through unchanged. Anything unexpected is logged with
// the correlation id and hidden behind ErrInternal.
func (e *Engine) storeError(ctx context.Context, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isPublicError(err):
		return err
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrDuplicate):
		return ErrDuplicate
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		e.log(ctx).Warn("store unavailable", slog.String("op", op), slog.Any("error", err))
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, op)
	default:
		return e.internalError(ctx, op, err)
	}
}

func (e *Engine) internalError(ctx context.Context, op string, err error) error {
	e.log(ctx).Error("internal error", slog.String("op", op), slog.Any("error", err))
	return ErrInternal
}

var publicErrors = []error{
	ErrValidationFailed,
	ErrDuplicate,
	ErrInvalidCredentials,
	ErrAccountLocked,
	ErrTenantInactive,
	ErrPrincipalInactive,
	ErrQuotaExceeded,
	ErrNoActivePlan,
	ErrTokenRejected,
	ErrSecondFactorInvalid,
	ErrSecondFactorEnabled,
	ErrSecondFactorNotEnabled,
	ErrSecondFactorNoEnrolment,
	ErrChallengeInvalid,
	ErrChallengeExpired,
	ErrIllegalTransition,
	ErrNotFound,
	ErrStoreUnavailable,
	ErrInternal,
}

func isPublicError(err error) bool {
	for _, target := range publicErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
