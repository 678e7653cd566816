// Package flows contains the request flows the client runs outside the
// generic pipeline: login, token refresh, and response classification.
//
// Each flow function accepts a typed dependency struct and returns a result
// value. Flows never hold state between calls.
//
// # Architecture boundaries
//
// Flow functions decide what a reply means. They do NOT own the HTTP client,
// the session, or the refresh coordinator; the root client supplies them.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authkit (to avoid import cycles).
//   - Perform I/O directly; all I/O goes through dependency functions.
package flows
