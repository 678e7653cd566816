package authkit

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one client counter or latency histogram.
type MetricID uint16

const (
	// MetricRequest counts every call entering the pipeline.
	MetricRequest MetricID = iota
	// MetricRequestSuccess counts calls that ended with a success envelope or 2xx body.
	MetricRequestSuccess
	// MetricRequestFailure counts calls that returned an error to the caller.
	MetricRequestFailure
	// MetricBusinessError counts non-success business codes.
	MetricBusinessError
	// MetricTransientError counts timeouts and 5xx family responses, including retried ones.
	MetricTransientError
	// MetricNetworkError counts transport failures.
	MetricNetworkError
	// MetricRetry counts extra attempts made after a transient failure.
	MetricRetry
	// MetricUnauthorized counts unauthorized responses.
	MetricUnauthorized
	// MetricRefreshStarted counts refresh calls actually issued.
	MetricRefreshStarted
	// MetricRefreshSuccess counts refresh calls that produced a new token pair.
	MetricRefreshSuccess
	// MetricRefreshFailure counts refresh calls that failed.
	MetricRefreshFailure
	// MetricRefreshQueued counts callers that joined an in-flight refresh.
	MetricRefreshQueued
	// MetricRefreshUnavailable counts unauthorized responses with no refresh token held.
	MetricRefreshUnavailable
	// MetricForcedLogout counts sessions cleared after unresolvable unauthorized responses.
	MetricForcedLogout
	// MetricBannerShown counts unauthorized notifications delivered.
	MetricBannerShown
	// MetricBannerSuppressed counts unauthorized notifications swallowed by the debounce window.
	MetricBannerSuppressed
	// MetricEncrypt counts encrypted request bodies.
	MetricEncrypt
	// MetricEncryptFailure counts request bodies that could not be encrypted.
	MetricEncryptFailure
	// MetricDecryptSuccess counts decrypted response envelopes.
	MetricDecryptSuccess
	// MetricDecryptFallback counts response bodies treated as plain after a failed decrypt.
	MetricDecryptFallback
	// MetricDecryptIntegrityFailure counts padding or tag failures.
	MetricDecryptIntegrityFailure
	// MetricLogin counts successful logins.
	MetricLogin
	// MetricLogout counts explicit logouts.
	MetricLogout
	// MetricRequestLatency is the end-to-end call latency histogram.
	MetricRequestLatency
	// MetricRefreshLatency is the refresh call latency histogram.
	MetricRefreshLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and fixed-bucket latency histograms.
// A nil or disabled Metrics records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all metrics. Histogram slices
// hold non-cumulative bucket counts for <=5, 10, 25, 50, 100, 250, 500 ms
// and +Inf.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics allocates counters according to cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether latency histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id. It is a no-op when metrics are disabled.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram for id. Only latency IDs accept
// observations.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || !isHistogram(id) {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current count of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range []MetricID{MetricRequestLatency, MetricRefreshLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func isHistogram(id MetricID) bool {
	return id == MetricRequestLatency || id == MetricRefreshLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
