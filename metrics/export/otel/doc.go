// Package otel publishes authkit client metrics as OpenTelemetry observable
// instruments.
//
// [NewExporter] registers one Int64ObservableCounter per client counter and
// an Int64ObservableGauge per latency bucket. A single callback reads the
// source snapshot on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate client state.
package otel
