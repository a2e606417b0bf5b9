package tenantauth

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// SweepReport counts what one Sweep removed or changed.
type SweepReport struct {
	RefreshTokensDeleted int64
	EnrollmentsDeleted   int64
	SubscriptionsExpired int
}

// Sweep deletes expired refresh tokens and enrollments and expires
// subscriptions whose window has ended. It is advisory: every expiry is
// also enforced at use. Each step runs even when an earlier one fails; the
// errors are joined.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	if e == nil || e.store == nil {
		return SweepReport{}, ErrEngineNotReady
	}
	var (
		report SweepReport
		errs   []error
	)
	now := e.now()

	err := e.write(ctx, "delete expired refresh tokens", func(ctx context.Context) error {
		n, err := e.store.DeleteExpiredRefreshTokens(ctx, now)
		report.RefreshTokensDeleted = n
		return err
	})
	if err != nil {
		errs = append(errs, err)
	}
	e.metrics.Add(MetricSweepRefreshDeleted, uint64(report.RefreshTokensDeleted))

	err = e.write(ctx, "delete expired enrollments", func(ctx context.Context) error {
		n, err := e.store.DeleteExpiredEnrollments(ctx, now)
		report.EnrollmentsDeleted = n
		return err
	})
	if err != nil {
		errs = append(errs, err)
	}

	rows, err := e.subs.ExpireDue(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	report.SubscriptionsExpired = len(rows)

	e.emitAudit(ctx, auditEventSweepCompleted, len(errs) == 0, "", "", errors.Join(errs...), nil)
	return report, errors.Join(errs...)
}

// RunSweeper calls Sweep every Sweeper.Interval until ctx is done. Sweep
// failures are logged and do not stop the loop.
func (e *Engine) RunSweeper(ctx context.Context) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	ticker := time.NewTicker(e.config.Sweeper.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := e.Sweep(ctx)
			if err != nil {
				e.log(ctx).Warn("sweep failed", slog.Any("error", err))
				continue
			}
			e.log(ctx).Debug("sweep completed",
				slog.Int64("refresh_tokens_deleted", report.RefreshTokensDeleted),
				slog.Int64("enrollments_deleted", report.EnrollmentsDeleted),
				slog.Int("subscriptions_expired", report.SubscriptionsExpired),
			)
		}
	}
}
