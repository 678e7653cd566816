// Package session holds the client-side authentication session: the token
// pair, the user profile and expiry metadata.
//
// # Ownership
//
// A [Manager] is the single owner of the live [Session] for one client. All
// mutations (login, refresh, profile load, logout) replace the session value
// atomically and write it through to a [Store].
//
// # Persistence
//
// Sessions are stored in a compact versioned binary format (see [Encode]).
// Older schema versions are decoded and rewritten on read. [RedisStore] and
// [FileStore] can seal blobs at rest with a [Sealer]; [MemoryStore] keeps
// values in process.
//
// # Architecture boundaries
//
// This package does not perform HTTP calls, refresh tokens, or evaluate
// permissions. It exposes Permissions and Generation so permission checkers
// can cache against it.
//
// # What this package must NOT do
//
//   - Import authkit, refresh, envelope or permission.
//   - Log token values.
package session
