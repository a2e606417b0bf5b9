package internaldefs

import (
	"github.com/MrEthical07/tenantauth"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   tenantauth.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   tenantauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: tenantauth.MetricRegisterSuccess, Name: "tenantauth_register_success_total", Help: "Principals registered."},
	{ID: tenantauth.MetricRegisterDuplicate, Name: "tenantauth_register_duplicate_total", Help: "Registrations rejected for a duplicate username or email."},
	{ID: tenantauth.MetricRegisterQuotaDenied, Name: "tenantauth_register_quota_denied_total", Help: "Registrations rejected by the plan limit."},
	{ID: tenantauth.MetricLoginSuccess, Name: "tenantauth_login_success_total", Help: "Logins that issued tokens."},
	{ID: tenantauth.MetricLoginFailure, Name: "tenantauth_login_failure_total", Help: "Logins rejected with invalid credentials."},
	{ID: tenantauth.MetricLoginLocked, Name: "tenantauth_login_locked_total", Help: "Logins rejected because the account was locked."},
	{ID: tenantauth.MetricAccountLocked, Name: "tenantauth_account_locked_total", Help: "Lockouts started by repeated failures."},
	{ID: tenantauth.MetricSecondFactorRequired, Name: "tenantauth_second_factor_required_total", Help: "Logins that returned a second-factor challenge."},
	{ID: tenantauth.MetricSecondFactorSuccess, Name: "tenantauth_second_factor_success_total", Help: "Accepted second-factor verifications."},
	{ID: tenantauth.MetricSecondFactorFailure, Name: "tenantauth_second_factor_failure_total", Help: "Rejected second-factor verifications."},
	{ID: tenantauth.MetricBackupCodeUsed, Name: "tenantauth_backup_code_used_total", Help: "Backup codes redeemed."},
	{ID: tenantauth.MetricBackupCodeRegenerated, Name: "tenantauth_backup_code_regenerated_total", Help: "Backup code set regenerations."},
	{ID: tenantauth.MetricRefreshSuccess, Name: "tenantauth_refresh_success_total", Help: "Refresh token rotations."},
	{ID: tenantauth.MetricRefreshFailure, Name: "tenantauth_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: tenantauth.MetricLogout, Name: "tenantauth_logout_total", Help: "Single-token logouts."},
	{ID: tenantauth.MetricLogoutAll, Name: "tenantauth_logout_all_total", Help: "Logout-all operations."},
	{ID: tenantauth.MetricPasswordChanged, Name: "tenantauth_password_changed_total", Help: "Password changes."},
	{ID: tenantauth.MetricQuotaAllowed, Name: "tenantauth_quota_allowed_total", Help: "Quota decisions that allowed a create."},
	{ID: tenantauth.MetricQuotaDenied, Name: "tenantauth_quota_denied_total", Help: "Quota decisions that denied a create."},
	{ID: tenantauth.MetricSubscriptionTransition, Name: "tenantauth_subscription_transition_total", Help: "Subscription state transitions applied."},
	{ID: tenantauth.MetricTenantCreated, Name: "tenantauth_tenant_created_total", Help: "Tenants created."},
	{ID: tenantauth.MetricTenantDeleted, Name: "tenantauth_tenant_deleted_total", Help: "Tenants deleted."},
	{ID: tenantauth.MetricSweepRefreshDeleted, Name: "tenantauth_sweep_refresh_deleted_total", Help: "Expired refresh tokens removed by the sweeper."},
	{ID: tenantauth.MetricSweepSubscriptionsExpired, Name: "tenantauth_sweep_subscriptions_expired_total", Help: "Subscriptions expired by the sweeper."},
	{ID: tenantauth.MetricStoreRetry, Name: "tenantauth_store_retry_total", Help: "Store calls retried after a transient conflict."},
}

var HistogramDefs = []HistogramDef{
	{ID: tenantauth.MetricLoginLatency, Name: "tenantauth_login_latency_seconds", Help: "Login latency histogram."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// engine bucket is +Inf.
var HistogramUpperBounds = []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling when raw
// is short.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
