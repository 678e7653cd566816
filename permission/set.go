package permission

import "strings"

type pattern struct {
	raw  string
	segs []string
}

func compile(raw string) pattern {
	return pattern{raw: raw, segs: strings.Split(raw, Separator)}
}

func (p pattern) match(value string, valueSegs []string) bool {
	if p.raw == "" || value == "" {
		return false
	}
	if p.raw == value || p.raw == SingleWildcard || p.raw == MultiWildcard {
		return true
	}
	return matchSegments(p.segs, valueSegs)
}

// Set is an immutable, pre-split view of a granted permission list.
//
// Evaluating against a Set gives the same answers as [IsGranted] on the
// original slice but splits every pattern once instead of on every call.
// Sets are safe for concurrent use.
type Set struct {
	raw       []string
	exact     map[string]struct{}
	denyExact map[string]struct{}
	deny      []pattern
	allow     []pattern
	global    bool
}

// NewSet compiles granted into a [Set]. The input slice is copied.
func NewSet(granted []string) *Set {
	s := &Set{
		raw:       append([]string(nil), granted...),
		exact:     make(map[string]struct{}, len(granted)),
		denyExact: make(map[string]struct{}),
	}

	for _, g := range granted {
		s.exact[g] = struct{}{}
		if strings.HasPrefix(g, DenyPrefix) {
			d := g[len(DenyPrefix):]
			s.denyExact[d] = struct{}{}
			s.deny = append(s.deny, compile(d))
			continue
		}
		if g == SingleWildcard || g == MultiWildcard {
			s.global = true
		}
		s.allow = append(s.allow, compile(g))
	}

	return s
}

// Len returns the number of entries the set was built from.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.raw)
}

// IsGranted reports whether required is granted. See [IsGranted].
func (s *Set) IsGranted(required string) bool {
	if s == nil || required == "" || len(s.raw) == 0 {
		return false
	}

	if _, denied := s.denyExact[required]; denied {
		return false
	}

	segs := strings.Split(required, Separator)
	for _, d := range s.deny {
		if d.match(required, segs) {
			return false
		}
	}

	if _, ok := s.exact[required]; ok {
		return true
	}
	if s.global {
		return true
	}

	for _, a := range s.allow {
		if a.match(required, segs) {
			return true
		}
	}
	return false
}

// HasAny reports whether at least one of required is granted.
func (s *Set) HasAny(required ...string) bool {
	for _, r := range required {
		if s.IsGranted(r) {
			return true
		}
	}
	return false
}

// HasAll reports whether every entry of required is granted. An empty
// required list is trivially satisfied.
func (s *Set) HasAll(required ...string) bool {
	for _, r := range required {
		if !s.IsGranted(r) {
			return false
		}
	}
	return true
}

// IsSuperAdmin reports whether the set holds a global wildcard.
func (s *Set) IsSuperAdmin() bool {
	return s != nil && s.global
}

// Denied returns the deny patterns without their "-" prefix, in input order.
func (s *Set) Denied() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.deny))
	for _, d := range s.deny {
		out = append(out, d.raw)
	}
	return out
}

// Allowed returns the allow entries, in input order.
func (s *Set) Allowed() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.allow))
	for _, a := range s.allow {
		out = append(out, a.raw)
	}
	return out
}
