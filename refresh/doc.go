// Package refresh coordinates access-token refresh for many concurrent callers.
//
// # Single flight
//
// A [Coordinator] has two states, Idle and Refreshing. The first caller that
// reports an unauthorized response while Idle becomes the leader: it moves the
// coordinator to Refreshing and performs the refresh call. Every caller that
// arrives while Refreshing is queued and receives the leader's outcome. At
// most one refresh call is in flight per coordinator.
//
// On success the new token pair is persisted through the [TokenStore] before
// queued callers are released. On failure the queue is drained with
// [ErrRefreshFailed]; queued callers are not retried.
//
// # Architecture boundaries
//
// This package owns the state machine only. Issuing the refresh HTTP call,
// re-issuing the original request and clearing the session on failure are
// the caller's job, supplied as functions.
//
// # What this package must NOT do
//
//   - Perform HTTP or any I/O of its own.
//   - Import authkit, session, or envelope.
//   - Retry a failed refresh.
package refresh
