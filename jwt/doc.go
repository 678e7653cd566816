// Package jwt reads access-token claims on the client and, for test backends,
// issues tokens with the same claim layout.
//
// The client never trusts these claims for authorization. It uses them for
// session expiry metadata only, optionally restricted to tokens whose
// signature verifies against a configured key (see [Inspector]).
package jwt
