// Package internal contains helpers that are private to authkit.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: login and refresh flows plus response classification
//   - testbackend: in-process fake API server used by tests, examples and the load tester
//
// This package itself holds the opaque refresh-token format used by the fake
// backend.
//
// # What this package must NOT do
//
//   - Export types that appear in the public authkit API.
//   - Be imported by any package outside the authkit module.
package internal
