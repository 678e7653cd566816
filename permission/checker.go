package permission

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of cached decisions per [Checker].
const DefaultCacheSize = 512

// Source supplies the current granted list. Generation must change whenever
// the list changes; the Checker drops its cache on a generation change.
type Source interface {
	Permissions() []string
	Generation() uint64
}

// Checker answers permission questions against a live [Source], caching
// decisions until the source generation moves.
//
// Route guards and UI directives ask the same handful of questions many times
// per session, so decisions are memoized in an LRU keyed by the required
// permission.
type Checker struct {
	source Source

	mu    sync.Mutex
	gen   uint64
	set   *Set
	cache *lru.Cache[string, bool]
}

// NewChecker creates a [Checker] over source with an LRU of size entries.
// size <= 0 selects [DefaultCacheSize].
func NewChecker(source Source, size int) (*Checker, error) {
	if source == nil {
		return nil, errors.New("permission source is nil")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}

	cache, err := lru.New[string, bool](size)
	if err != nil {
		return nil, err
	}

	c := &Checker{
		source: source,
		cache:  cache,
	}
	c.gen = source.Generation()
	c.set = NewSet(source.Permissions())
	return c, nil
}

// current returns the compiled set for the live generation, rebuilding it and
// dropping cached decisions if the source has moved on. Caller holds c.mu.
func (c *Checker) current() *Set {
	gen := c.source.Generation()
	if gen != c.gen || c.set == nil {
		c.gen = gen
		c.set = NewSet(c.source.Permissions())
		c.cache.Purge()
	}
	return c.set
}

// Has reports whether required is granted.
func (c *Checker) Has(required string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := c.current()
	if v, ok := c.cache.Get(required); ok {
		return v
	}
	v := set.IsGranted(required)
	c.cache.Add(required, v)
	return v
}

// HasAny reports whether at least one of required is granted.
func (c *Checker) HasAny(required ...string) bool {
	for _, r := range required {
		if c.Has(r) {
			return true
		}
	}
	return false
}

// HasAll reports whether all of required are granted.
func (c *Checker) HasAll(required ...string) bool {
	for _, r := range required {
		if !c.Has(r) {
			return false
		}
	}
	return true
}

// IsSuperAdmin reports whether the live list holds a global wildcard.
func (c *Checker) IsSuperAdmin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current().IsSuperAdmin()
}

// Snapshot returns the compiled set for the live generation.
func (c *Checker) Snapshot() *Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current()
}
