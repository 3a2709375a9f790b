package internaldefs

import (
	"github.com/MrEthical07/rideauth"
)

// CounterDef names one engine counter for every exporter.
type CounterDef struct {
	ID   rideauth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   rideauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: rideauth.MetricLoginSuccess, Name: "rideauth_login_success_total", Help: "Successful password logins."},
	{ID: rideauth.MetricLoginFailure, Name: "rideauth_login_failure_total", Help: "Failed password logins."},
	{ID: rideauth.MetricLoginRateLimited, Name: "rideauth_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: rideauth.MetricRegisterSuccess, Name: "rideauth_register_success_total", Help: "Accounts created through registration."},
	{ID: rideauth.MetricRegisterDuplicate, Name: "rideauth_register_duplicate_total", Help: "Registrations rejected for an existing email."},
	{ID: rideauth.MetricRefreshSuccess, Name: "rideauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: rideauth.MetricRefreshFailure, Name: "rideauth_refresh_failure_total", Help: "Rejected refresh tokens."},
	{ID: rideauth.MetricRefreshReuseDetected, Name: "rideauth_refresh_reuse_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: rideauth.MetricOTPIssued, Name: "rideauth_otp_issued_total", Help: "Issued one-time codes."},
	{ID: rideauth.MetricOTPVerified, Name: "rideauth_otp_verified_total", Help: "Successfully consumed one-time codes."},
	{ID: rideauth.MetricOTPFailure, Name: "rideauth_otp_failure_total", Help: "Rejected one-time codes."},
	{ID: rideauth.MetricOTPRateLimited, Name: "rideauth_otp_rate_limited_total", Help: "Rate-limited OTP verifications."},
	{ID: rideauth.MetricEmailDeliveryFailure, Name: "rideauth_email_delivery_failure_total", Help: "OTP emails the sender failed to deliver."},
	{ID: rideauth.MetricFederatedSuccess, Name: "rideauth_federated_success_total", Help: "Successful federated sign-ins."},
	{ID: rideauth.MetricFederatedFailure, Name: "rideauth_federated_failure_total", Help: "Rejected provider tokens."},
	{ID: rideauth.MetricFederatedLinkRequired, Name: "rideauth_federated_link_required_total", Help: "Federated sign-ins blocked by link policy."},
	{ID: rideauth.MetricRoleSwitch, Name: "rideauth_role_switch_total", Help: "Active role switches."},
	{ID: rideauth.MetricRoleForbidden, Name: "rideauth_role_forbidden_total", Help: "Authorization checks that denied access."},
	{ID: rideauth.MetricRoleUpdate, Name: "rideauth_role_update_total", Help: "Administrative role assignment updates."},
	{ID: rideauth.MetricInternalKeyDenied, Name: "rideauth_internal_key_denied_total", Help: "Internal requests rejected for a missing or wrong key."},
	{ID: rideauth.MetricPasswordResetRequest, Name: "rideauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: rideauth.MetricPasswordResetSuccess, Name: "rideauth_password_reset_success_total", Help: "Completed password resets."},
	{ID: rideauth.MetricLogout, Name: "rideauth_logout_total", Help: "Single-token logouts."},
	{ID: rideauth.MetricLogoutAll, Name: "rideauth_logout_all_total", Help: "Logout-all operations."},
	{ID: rideauth.MetricRateLimitHit, Name: "rideauth_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: rideauth.MetricAuditDropped, Name: "rideauth_audit_dropped_total", Help: "Audit events dropped before reaching the sink."},
}

var HistogramDefs = []HistogramDef{
	{ID: rideauth.MetricVerifyLatency, Name: "rideauth_verify_latency_seconds", Help: "Access token verification latency."},
}

// HistogramUpperBounds are the bucket bounds in seconds; the last bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}


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
