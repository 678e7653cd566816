// Package audit dispatches client audit events (login, logout, refresh
// outcomes, forced logout, decrypt failures) asynchronously to a sink.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured audit record with timestamp, type, request id and metadata.
//
// # Architecture boundaries
//
// This package owns buffering and sink delivery. It does not decide which
// events to emit; the client does.
//
// # What this package must NOT do
//
//   - Filter events based on business logic.
//   - Import authkit or any sibling internal package.
//   - Record token values.
package audit
