// Package middleware adapts an authkit session to plain net/http code.
//
// # Transport
//
//   - [Transport] is an http.RoundTripper that attaches the session's bearer
//     token and, when given a [Refresher], replays a request once after an
//     HTTP 401 with the token the refresh produced.
//
// # Guards
//
//   - [Guard] admits a request when an [Authorizer] satisfies a [Rule].
//   - [RequirePermission] and [RequireRoles] are the common rules.
//
// Guards answer 401 when no session is signed in and 403 when the session
// lacks the permission or role. The evaluated [Decision] is stored in the
// request context.
//
// # What this package must NOT do
//
//   - Read or write the session store directly.
//   - Decide permissions itself (delegates to the Authorizer).
//   - Replay a request whose body cannot be rewound.
package middleware
