package internaldefs

import "github.com/MrEthical07/agencyauth"

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   agencyauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   agencyauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: agencyauth.MetricRegistrationSuccess, Name: "agencyauth_registration_success_total", Help: "Accounts registered."},
	{ID: agencyauth.MetricRegistrationFailure, Name: "agencyauth_registration_failure_total", Help: "Registrations rejected by validation."},
	{ID: agencyauth.MetricRegistrationDuplicate, Name: "agencyauth_registration_duplicate_total", Help: "Registrations rejected for a taken email."},
	{ID: agencyauth.MetricLoginCodeSent, Name: "agencyauth_login_code_sent_total", Help: "Logins that passed the password step and received a code."},
	{ID: agencyauth.MetricLoginFailure, Name: "agencyauth_login_failure_total", Help: "Logins rejected for an unknown email or wrong password."},
	{ID: agencyauth.MetricLoginLocked, Name: "agencyauth_login_locked_total", Help: "Logins rejected because the account is locked."},
	{ID: agencyauth.MetricLoginSessionConflict, Name: "agencyauth_login_session_conflict_total", Help: "Logins rejected because a session is already active."},
	{ID: agencyauth.MetricLoginUnverified, Name: "agencyauth_login_unverified_total", Help: "Logins rejected for an unverified email."},
	{ID: agencyauth.MetricAccountLockedOut, Name: "agencyauth_account_locked_out_total", Help: "Accounts locked after repeated failures."},
	{ID: agencyauth.MetricAccountAutoUnlocked, Name: "agencyauth_account_auto_unlocked_total", Help: "Accounts unlocked after the lockout window."},
	{ID: agencyauth.MetricCodeIssued, Name: "agencyauth_code_issued_total", Help: "Verification codes issued."},
	{ID: agencyauth.MetricCodeVerified, Name: "agencyauth_code_verified_total", Help: "Verification codes consumed."},
	{ID: agencyauth.MetricCodeInvalid, Name: "agencyauth_code_invalid_total", Help: "Verification attempts with a wrong code."},
	{ID: agencyauth.MetricCodeExpired, Name: "agencyauth_code_expired_total", Help: "Verification attempts with an expired code."},
	{ID: agencyauth.MetricCodeResent, Name: "agencyauth_code_resent_total", Help: "Codes reissued on request."},
	{ID: agencyauth.MetricCodeRateLimited, Name: "agencyauth_code_rate_limited_total", Help: "Code issuances denied by the throttle."},
	{ID: agencyauth.MetricEmailVerified, Name: "agencyauth_email_verified_total", Help: "Email addresses verified."},
	{ID: agencyauth.MetricEmailDeliveryFailure, Name: "agencyauth_email_delivery_failure_total", Help: "Codes that could not be emailed."},
	{ID: agencyauth.MetricSessionCreated, Name: "agencyauth_session_created_total", Help: "Sessions opened."},
	{ID: agencyauth.MetricSessionReaped, Name: "agencyauth_session_reaped_total", Help: "Idle sessions closed by the reconciler."},
	{ID: agencyauth.MetricLogout, Name: "agencyauth_logout_total", Help: "Sessions closed by logout."},
	{ID: agencyauth.MetricKeepAlive, Name: "agencyauth_keepalive_total", Help: "Session keep-alive calls."},
	{ID: agencyauth.MetricPasswordChangeSuccess, Name: "agencyauth_password_change_success_total", Help: "Passwords changed."},
	{ID: agencyauth.MetricPasswordChangeFailure, Name: "agencyauth_password_change_failure_total", Help: "Password changes rejected."},
	{ID: agencyauth.MetricPasswordChangeReuseRejected, Name: "agencyauth_password_change_reuse_rejected_total", Help: "Password changes rejected for reuse."},
	{ID: agencyauth.MetricPasswordResetRequest, Name: "agencyauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: agencyauth.MetricPasswordResetSuccess, Name: "agencyauth_password_reset_success_total", Help: "Passwords reset."},
	{ID: agencyauth.MetricPasswordResetFailure, Name: "agencyauth_password_reset_failure_total", Help: "Password resets rejected."},
	{ID: agencyauth.MetricBotRejected, Name: "agencyauth_bot_rejected_total", Help: "Requests rejected by the bot check."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: agencyauth.MetricLoginLatency, Name: "agencyauth_login_latency_seconds", Help: "Login latency."},
}

// UpperBounds are the finite bucket bounds in seconds. The engine keeps one
// extra overflow bucket.
var UpperBounds = []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// HistogramBoundSuffix names each bucket, overflow included, for exporters
// without native histograms.
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

// NormalizeBuckets pads or truncates raw to the engine bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
