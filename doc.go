// Package authkit is the client side of a token-authenticated admin API: a
// request pipeline that keeps a session alive across access-token expiry,
// encrypts request and response bodies end to end, and answers permission
// questions for the signed-in user.
//
// A [Client] is safe to call from many goroutines after [Builder.Build].
// When several in-flight calls are rejected as unauthorized at once, exactly
// one refresh call is made and every rejected call is replayed with the
// token it produced.
//
// # Architecture boundaries
//
// authkit is the composition root. It wires the focused sub-packages:
// permission (wildcard and deny-list matching), envelope (hybrid RSA/AES
// codec), refresh (single-flight coordinator) and session (state, stores,
// at-rest sealing). Response classification and the refresh call flow live
// under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Log tokens, keys or decrypted bodies.
//   - Replay a request more than once after a refresh.
//   - Trust a response body that failed its integrity check.
//   - Import any sub-package that re-imports authkit (no import cycles).
package authkit
