package middleware

import (
	"context"
	"net/http"
)

// Authorizer answers permission questions for the signed-in user.
// *authkit.Client satisfies it.
type Authorizer interface {
	Authenticated() bool
	HasAllPermissions(required ...string) bool
	HasAnyPermission(required ...string) bool
	HasRole(roles ...int) bool
}

// Rule is the route metadata a Guard enforces. Empty fields are not checked.
type Rule struct {
	// Permissions must all be granted, or any one when AnyPermission is set.
	Permissions   []string
	AnyPermission bool
	// Roles admits the user when it holds at least one of them.
	Roles []int
}

// Decision records why a Guard admitted a request.
type Decision struct {
	Rule        Rule
	Permissions bool
	Roles       bool
}

type decisionContextKey struct{}

// DecisionFromContext returns the decision Guard stored for the request.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(Decision)
	return d, ok
}

// Guard returns middleware that lets a request through only when auth
// satisfies rule.
func Guard(auth Authorizer, rule Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil || !auth.Authenticated() {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			d, ok := evaluate(auth, rule)
			if !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), decisionContextKey{}, d)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission admits users granted every one of perms.
func RequirePermission(auth Authorizer, perms ...string) func(http.Handler) http.Handler {
	return Guard(auth, Rule{Permissions: perms})
}

// RequireRoles admits users holding any of roles.
func RequireRoles(auth Authorizer, roles ...int) func(http.Handler) http.Handler {
	return Guard(auth, Rule{Roles: roles})
}

func evaluate(auth Authorizer, rule Rule) (Decision, bool) {
	d := Decision{Rule: rule}

	if len(rule.Permissions) > 0 {
		if rule.AnyPermission {
			d.Permissions = auth.HasAnyPermission(rule.Permissions...)
		} else {
			d.Permissions = auth.HasAllPermissions(rule.Permissions...)
		}
		if !d.Permissions {
			return d, false
		}
	}

	if len(rule.Roles) > 0 {
		d.Roles = auth.HasRole(rule.Roles...)
		if !d.Roles {
			return d, false
		}
	}
	return d, true
}
