package permission

// SuperAdminRoleID is the role identifier that passes every role check.
const SuperAdminRoleID = 1

// HasAnyRole reports whether userRoles contains at least one of required.
// A user without roles never passes; a user holding [SuperAdminRoleID]
// always passes.
func HasAnyRole(userRoles []int, required ...int) bool {
	if len(userRoles) == 0 {
		return false
	}

	held := make(map[int]struct{}, len(userRoles))
	for _, r := range userRoles {
		held[r] = struct{}{}
	}
	if _, ok := held[SuperAdminRoleID]; ok {
		return true
	}

	for _, r := range required {
		if _, ok := held[r]; ok {
			return true
		}
	}
	return false
}

// HasAuth is the coarse button-level check used by route metadata: mark is
// accepted when granted holds "*", when granted holds mark verbatim, or when
// the route itself declares mark in routeMarks. No wildcard or deny-list
// evaluation is performed; use [IsGranted] for that.
func HasAuth(mark string, granted []string, routeMarks []string) bool {
	for _, g := range granted {
		if g == SingleWildcard || g == mark {
			return true
		}
	}
	for _, m := range routeMarks {
		if m == mark {
			return true
		}
	}
	return false
}
