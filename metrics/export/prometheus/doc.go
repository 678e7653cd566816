// Package prometheus publishes authkit client metrics through
// github.com/prometheus/client_golang.
//
// [NewCollector] wraps any source of [authkit.MetricsSnapshot], usually an
// *authkit.Client, as a prometheus.Collector. [Exporter.Handler] serves it
// from a private registry. Counter names are prefixed authkit_*_total; the
// histograms are authkit_request_latency_seconds and
// authkit_refresh_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry. Callers mount the
//     Handler or register the Collector themselves.
//   - Mutate client state.
package prometheus
