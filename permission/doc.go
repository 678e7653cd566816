// Package permission evaluates hierarchical permission strings against a
// user's granted list with wildcard and deny-list semantics.
//
// # Pattern forms
//
//   - exact: "system.menu.add"
//   - single-level wildcard: "system.menu.*" (one segment in that position)
//   - multi-level wildcard: "system.**" (zero or more trailing segments, may
//     also appear mid-pattern, e.g. "system.**.delete")
//   - global: "*" or "**"
//   - deny: any of the above prefixed with "-", e.g. "-system.menu.delete"
//
// Deny entries always outrank allow entries. [IsGranted] is the pure
// function; [Set] is its pre-compiled form; [Checker] caches decisions
// against a changing [Source] such as the client session.
//
// # Architecture boundaries
//
// This package is pure in-memory evaluation with no I/O. It also carries the
// role-id and auth-mark helpers used by route guards.
//
// # What this package must NOT do
//
//   - Access the network, Redis, or the session store directly.
//   - Import authkit, session, or refresh.
//   - Reorder or rewrite the caller's granted list.
package permission
