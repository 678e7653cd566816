package permission

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"a.b.c", "a.b.c", true},
		{"a.b.c", "a.b.d", false},
		{"a.b.*", "a.b.c", true},
		{"a.b.*", "a.b.c.d", false},
		{"a.b.*", "a.b", false},
		{"a.*.c", "a.x.c", true},
		{"a.*.c", "a.x.y.c", false},
		{"a.**", "a", true},
		{"a.**", "a.b", true},
		{"a.**", "a.b.c.d", true},
		{"a.**", "b.c", false},
		{"a.**.z", "a.z", true},
		{"a.**.z", "a.b.c.z", true},
		{"a.**.z", "a.b.c.y", false},
		{"a.**.*.z", "a.b.z", true},
		{"a.**.*.z", "a.z", false},
		{"**.delete", "system.menu.delete", true},
		{"**.delete", "system.menu.edit", false},
		{"*", "anything.at.all", true},
		{"**", "x", true},
		{"", "a", false},
		{"a", "", false},
		{"a.b", "a", false},
	}

	for _, tc := range tests {
		t.Run(tc.pattern+"~"+tc.value, func(t *testing.T) {
			assert.Equal(t, tc.want, Match(tc.pattern, tc.value))
		})
	}
}

func TestIsGrantedExamples(t *testing.T) {
	assert.True(t, IsGranted("a.b.c", []string{"a.b.*"}))
	assert.False(t, IsGranted("a.b.c.d", []string{"a.b.*"}))
	assert.True(t, IsGranted("a.b.c.d", []string{"a.**"}))

	granted := []string{"system.*", "-system.menu.delete"}
	assert.False(t, IsGranted("system.menu.delete", granted))
	assert.False(t, IsGranted("system.menu.edit", granted), "system.* is single-level")
	assert.True(t, IsGranted("system.menu.edit", []string{"system.**", "-system.menu.delete"}))
	assert.True(t, IsGranted("system.menu", granted))
}

func TestIsGrantedEmptyInputs(t *testing.T) {
	assert.False(t, IsGranted("", []string{"*"}))
	assert.False(t, IsGranted("a", nil))
	assert.False(t, IsGranted("a", []string{}))
}

func TestIsGrantedGlobalWildcard(t *testing.T) {
	for _, p := range []string{"a", "a.b", "system.menu.delete", "x.y.z.w"} {
		assert.True(t, IsGranted(p, []string{"*"}), p)
		assert.True(t, IsGranted(p, []string{"**"}), p)
	}
}

func TestIsGrantedDenyOutranksAllow(t *testing.T) {
	allows := [][]string{
		{"*"},
		{"**"},
		{"system.**"},
		{"system.menu.*"},
		{"system.menu.delete"},
		{"**.delete"},
	}
	for _, allow := range allows {
		granted := append([]string{"-system.menu.delete"}, allow...)
		assert.False(t, IsGranted("system.menu.delete", granted), "allow=%v", allow)
	}
}

func TestIsGrantedDenyWildcard(t *testing.T) {
	granted := []string{"**", "-system.**"}
	assert.False(t, IsGranted("system.user.add", granted))
	assert.False(t, IsGranted("system", granted))
	assert.True(t, IsGranted("monitor.cache", granted))

	granted = []string{"system.**", "-system.*.delete"}
	assert.False(t, IsGranted("system.user.delete", granted))
	assert.True(t, IsGranted("system.user.edit", granted))
	assert.True(t, IsGranted("system.user.role.delete", granted))
}

func TestMatchPathologicalPatternTerminates(t *testing.T) {
	pattern := strings.Repeat("**.", 40) + "x"
	value := strings.Repeat("a.", 60) + "b"
	require.False(t, Match(pattern, value))
	require.True(t, Match(pattern, value+".x"))
}

// matchRecursive is the plain backtracking form of the segment matcher.
func matchRecursive(p []string, pi int, v []string, vi int) bool {
	if pi >= len(p) {
		return vi >= len(v)
	}
	if p[pi] == MultiWildcard {
		if pi == len(p)-1 {
			return true
		}
		for i := vi; i <= len(v); i++ {
			if matchRecursive(p, pi+1, v, i) {
				return true
			}
		}
		return false
	}
	if vi >= len(v) {
		return false
	}
	if p[pi] == SingleWildcard || p[pi] == v[vi] {
		return matchRecursive(p, pi+1, v, vi+1)
	}
	return false
}

func FuzzMatchAgreesWithBacktracking(f *testing.F) {
	f.Add("a.**.z", "a.b.z")
	f.Add("a.*", "a.b")
	f.Add("**.x.**", "q.x")
	f.Add("a..b", "a..b")
	f.Add("*.*", "a")

	f.Fuzz(func(t *testing.T, pattern, value string) {
		if len(pattern) > 64 || len(value) > 64 {
			return
		}
		if pattern == "" || value == "" || pattern == value || pattern == "*" || pattern == "**" {
			return
		}
		want := matchRecursive(strings.Split(pattern, "."), 0, strings.Split(value, "."), 0)
		if got := Match(pattern, value); got != want {
			t.Fatalf("Match(%q, %q) = %v, backtracking says %v", pattern, value, got, want)
		}
	})
}
