package tenantauth

import (
	"context"

	"github.com/MrEthical07/tenantauth/internal"
)

// RegenerateBackupCodes replaces every backup code of principalID after
// checking a current TOTP code. Earlier codes, used or not, stop working.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principalID, totpCode string) ([]string, error) {
	if e == nil || e.store == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}

	p, err := e.store.GetPrincipal(ctx, principalID)
	if err != nil {
		return nil, e.storeError(ctx, "get principal", err)
	}
	if !p.SecondFactorEnabled {
		return nil, ErrSecondFactorNotEnabled
	}
	if err := e.requireTOTP(ctx, p, totpCode, e.now()); err != nil {
		return nil, err
	}

	codes, hashes, err := e.generateBackupCodes(p.ID)
	if err != nil {
		return nil, e.internalError(ctx, "generate backup codes", err)
	}
	if err := e.write(ctx, "replace backup codes", func(ctx context.Context) error {
		return e.store.ReplaceBackupCodes(ctx, p.ID, hashes)
	}); err != nil {
		return nil, err
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, p.ID, p.TenantID, nil, nil)
	return codes, nil
}

// BackupCodesRemaining returns how many unused backup codes principalID has.
func (e *Engine) BackupCodesRemaining(ctx context.Context, principalID string) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.store.CountUnusedBackupCodes(ctx, principalID)
	if err != nil {
		return 0, e.storeError(ctx, "count backup codes", err)
	}
	return n, nil
}

// generateBackupCodes returns display-formatted codes and their hashes
// bound to principalID.
func (e *Engine) generateBackupCodes(principalID string) ([]string, [][]byte, error) {
	count := e.config.TOTP.BackupCodeCount
	codes := make([]string, 0, count)
	hashes := make([][]byte, 0, count)
	seen := make(map[string]struct{}, count)

	for len(codes) < count {
		code, err := internal.NewBackupCode(e.config.TOTP.BackupCodeLength)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, internal.FormatBackupCode(code))
		hashes = append(hashes, internal.BackupCodeHash(principalID, code))
	}
	return codes, hashes, nil
}
