package internaldefs

import (
	"github.com/junoyi/authkit"
)

// CounterDef names one client counter for exporters.
type CounterDef struct {
	ID   authkit.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram for exporters.
type HistogramDef struct {
	ID   authkit.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authkit.MetricRequest, Name: "authkit_request_total", Help: "Calls entering the request pipeline."},
	{ID: authkit.MetricRequestSuccess, Name: "authkit_request_success_total", Help: "Calls that completed successfully."},
	{ID: authkit.MetricRequestFailure, Name: "authkit_request_failure_total", Help: "Calls that returned an error."},
	{ID: authkit.MetricBusinessError, Name: "authkit_business_error_total", Help: "Responses carrying a non-success business code."},
	{ID: authkit.MetricTransientError, Name: "authkit_transient_error_total", Help: "Timeouts and retryable server failures."},
	{ID: authkit.MetricNetworkError, Name: "authkit_network_error_total", Help: "Transport failures."},
	{ID: authkit.MetricRetry, Name: "authkit_retry_total", Help: "Extra attempts after a transient failure."},
	{ID: authkit.MetricUnauthorized, Name: "authkit_unauthorized_total", Help: "Unauthorized responses."},
	{ID: authkit.MetricRefreshStarted, Name: "authkit_refresh_started_total", Help: "Token refresh calls issued."},
	{ID: authkit.MetricRefreshSuccess, Name: "authkit_refresh_success_total", Help: "Token refresh calls that succeeded."},
	{ID: authkit.MetricRefreshFailure, Name: "authkit_refresh_failure_total", Help: "Token refresh calls that failed."},
	{ID: authkit.MetricRefreshQueued, Name: "authkit_refresh_queued_total", Help: "Callers that waited on an in-flight refresh."},
	{ID: authkit.MetricRefreshUnavailable, Name: "authkit_refresh_unavailable_total", Help: "Unauthorized responses with no refresh token held."},
	{ID: authkit.MetricForcedLogout, Name: "authkit_forced_logout_total", Help: "Sessions cleared after an unrecoverable unauthorized response."},
	{ID: authkit.MetricBannerShown, Name: "authkit_banner_shown_total", Help: "Unauthorized notifications delivered."},
	{ID: authkit.MetricBannerSuppressed, Name: "authkit_banner_suppressed_total", Help: "Unauthorized notifications suppressed by debounce."},
	{ID: authkit.MetricEncrypt, Name: "authkit_encrypt_total", Help: "Encrypted request bodies."},
	{ID: authkit.MetricEncryptFailure, Name: "authkit_encrypt_failure_total", Help: "Request bodies that failed to encrypt."},
	{ID: authkit.MetricDecryptSuccess, Name: "authkit_decrypt_success_total", Help: "Decrypted response envelopes."},
	{ID: authkit.MetricDecryptFallback, Name: "authkit_decrypt_fallback_total", Help: "Envelope-shaped responses treated as plain."},
	{ID: authkit.MetricDecryptIntegrityFailure, Name: "authkit_decrypt_integrity_failure_total", Help: "Response envelopes that failed padding or tag checks."},
	{ID: authkit.MetricLogin, Name: "authkit_login_total", Help: "Successful logins."},
	{ID: authkit.MetricLogout, Name: "authkit_logout_total", Help: "Explicit logouts."},
}

var HistogramDefs = []HistogramDef{
	{ID: authkit.MetricRequestLatency, Name: "authkit_request_latency_seconds", Help: "End-to-end call latency."},
	{ID: authkit.MetricRefreshLatency, Name: "authkit_refresh_latency_seconds", Help: "Token refresh call latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the client's fixed
// latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundValues mirrors HistogramBounds without the +Inf bucket.
var HistogramBoundValues = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling short input.
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
