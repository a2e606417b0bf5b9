package tenantauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/tenantauth/internal/audit"
	"github.com/MrEthical07/tenantauth/internal/ids"
	"github.com/MrEthical07/tenantauth/internal/logging"
)

const (
	auditEventRegisterSuccess       = "register_success"
	auditEventRegisterFailure       = "register_failure"
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventAccountLocked         = "account_locked"
	auditEventSecondFactorRequired  = "second_factor_required"
	auditEventSecondFactorSuccess   = "second_factor_success"
	auditEventSecondFactorFailure   = "second_factor_failure"
	auditEventChallengeExhausted    = "challenge_attempts_exceeded"
	auditEventSecondFactorEnroll    = "second_factor_enroll_requested"
	auditEventSecondFactorEnabled   = "second_factor_enabled"
	auditEventSecondFactorDisabled  = "second_factor_disabled"
	auditEventBackupCodesGenerated  = "backup_codes_generated"
	auditEventBackupCodeUsed        = "backup_code_used"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventLogout                = "logout"
	auditEventLogoutAll             = "logout_all"
	auditEventPasswordChanged       = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordRehashed      = "password_rehashed"
	auditEventPrincipalStatus       = "principal_status_change"

	auditEventQuotaDenied           = "quota_denied"
	auditEventPlanCreated           = "plan_created"
	auditEventPlanUpdated           = "plan_updated"
	auditEventSubscriptionAssigned  = "subscription_assigned"
	auditEventSubscriptionSuspended = "subscription_suspended"
	auditEventSubscriptionResumed   = "subscription_resumed"
	auditEventSubscriptionExpired   = "subscription_expired"
	auditEventSubscriptionExtended  = "subscription_extended"
	auditEventTenantCreated         = "tenant_created"
	auditEventTenantActivated       = "tenant_activated"
	auditEventTenantSuspended       = "tenant_suspended"
	auditEventTenantExpired         = "tenant_expired"
	auditEventTenantDeleted         = "tenant_deleted"
	auditEventSweepCompleted        = "sweep_completed"
)

// AuditErrorCode is the stable error label carried by failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrPrincipalInactive  AuditErrorCode = "principal_inactive"
	auditErrTenantInactive     AuditErrorCode = "tenant_inactive"
	auditErrValidation         AuditErrorCode = "validation_failed"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrQuotaExceeded      AuditErrorCode = "quota_exceeded"
	auditErrNoActivePlan       AuditErrorCode = "no_active_plan"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrSecondFactor       AuditErrorCode = "second_factor_invalid"
	auditErrChallenge          AuditErrorCode = "challenge_invalid"
	auditErrIllegalTransition  AuditErrorCode = "illegal_transition"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrUnavailable        AuditErrorCode = "store_unavailable"
	auditErrInternal           AuditErrorCode = "internal"
)

func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrPrincipalInactive):
		return auditErrPrincipalInactive
	case errors.Is(err, ErrTenantInactive):
		return auditErrTenantInactive
	case errors.Is(err, ErrValidationFailed):
		return auditErrValidation
	case errors.Is(err, ErrDuplicate):
		return auditErrDuplicate
	case errors.Is(err, ErrNoActivePlan):
		return auditErrNoActivePlan
	case errors.Is(err, ErrQuotaExceeded):
		return auditErrQuotaExceeded
	case errors.Is(err, ErrTokenRejected):
		return auditErrInvalidToken
	case errors.Is(err, ErrSecondFactorInvalid):
		return auditErrSecondFactor
	case errors.Is(err, ErrChallengeInvalid), errors.Is(err, ErrChallengeExpired):
		return auditErrChallenge
	case errors.Is(err, ErrIllegalTransition):
		return auditErrIllegalTransition
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principalID string,
	tenantID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	now := e.now().UTC()
	event := audit.Event{
		ID:            ids.New(now),
		Timestamp:     now,
		EventType:     eventType,
		PrincipalID:   principalID,
		TenantID:      tenantID,
		CorrelationID: logging.CorrelationIDFromContext(ctx),
		Success:       success,
		Metadata:      metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}
