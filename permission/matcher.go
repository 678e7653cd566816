package permission

import "strings"

const (
	// DenyPrefix marks a granted entry as a deny-list pattern.
	DenyPrefix = "-"
	// SingleWildcard matches exactly one segment, or everything when used alone.
	SingleWildcard = "*"
	// MultiWildcard matches zero or more segments, or everything when used alone.
	MultiWildcard = "**"
	// Separator splits a permission into segments.
	Separator = "."
)

// Match reports whether pattern covers value.
//
// Both strings are split on "." and compared segment by segment. "*" consumes
// exactly one segment, "**" consumes zero or more, any other segment must be
// equal. A bare "*" or "**" pattern matches every non-empty value.
//
//	Match("system.user.*", "system.user.delete")       // true
//	Match("system.user.*", "system.user.delete.field") // false
//	Match("system.**", "system.user.delete.field")     // true
//	Match("a.**.z", "a.z")                             // true
func Match(pattern, value string) bool {
	if pattern == "" || value == "" {
		return false
	}
	if pattern == value {
		return true
	}
	if pattern == SingleWildcard || pattern == MultiWildcard {
		return true
	}

	return matchSegments(strings.Split(pattern, Separator), strings.Split(value, Separator))
}

type cursor struct {
	p int
	v int
}

// matchSegments walks (pattern index, value index) pairs with an explicit
// work list. Every pair is expanded at most once, so the worst case is
// O(len(p) * len(v)^2) even for patterns like "**.**.**.x".
func matchSegments(p, v []string) bool {
	width := len(v) + 1
	visited := make([]bool, (len(p)+1)*width)
	work := make([]cursor, 1, len(p)+len(v)+1)

	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]

		slot := cur.p*width + cur.v
		if visited[slot] {
			continue
		}
		visited[slot] = true

		if cur.p == len(p) {
			if cur.v == len(v) {
				return true
			}
			continue
		}

		seg := p[cur.p]
		if seg == MultiWildcard {
			// trailing ** swallows the rest unconditionally
			if cur.p == len(p)-1 {
				return true
			}
			for i := len(v); i >= cur.v; i-- {
				work = append(work, cursor{p: cur.p + 1, v: i})
			}
			continue
		}

		if cur.v == len(v) {
			continue
		}
		if seg == SingleWildcard || seg == v[cur.v] {
			work = append(work, cursor{p: cur.p + 1, v: cur.v + 1})
		}
	}

	return false
}

// IsGranted reports whether required is granted by the entries in granted.
//
// Deny entries ("-" prefixed, optionally wildcarded) always win over allow
// entries regardless of specificity, so ["system.*", "-system.menu.delete"]
// grants "system.menu.edit" but not "system.menu.delete".
func IsGranted(required string, granted []string) bool {
	if required == "" || len(granted) == 0 {
		return false
	}

	deny := DenyPrefix + required
	for _, g := range granted {
		if g == deny {
			return false
		}
	}

	for _, g := range granted {
		if strings.HasPrefix(g, DenyPrefix) && Match(g[len(DenyPrefix):], required) {
			return false
		}
	}

	for _, g := range granted {
		if g == required {
			return true
		}
	}

	for _, g := range granted {
		if g == SingleWildcard || g == MultiWildcard {
			return true
		}
	}

	for _, g := range granted {
		if strings.HasPrefix(g, DenyPrefix) {
			continue
		}
		if Match(g, required) {
			return true
		}
	}

	return false
}
