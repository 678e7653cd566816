package authkit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// NotifyLevel classifies a user-facing notification.
type NotifyLevel int

const (
	NotifySuccess NotifyLevel = iota + 1
	NotifyError
	// NotifyUnauthorized is the session-expired banner. At most one is
	// delivered per debounce window.
	NotifyUnauthorized
)

func (l NotifyLevel) String() string {
	switch l {
	case NotifySuccess:
		return "success"
	case NotifyError:
		return "error"
	case NotifyUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Notification is what a UI layer would show to the user.
type Notification struct {
	Level     NotifyLevel
	Code      int
	Message   string
	RequestID string
	Method    string
	Path      string
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }

type discardNotifier struct{}

func (discardNotifier) Notify(Notification) {}

// banner is the single-shot unauthorized debounce. trigger returns true for
// the first call of a window; the window restarts only after it has elapsed.
type banner struct {
	clock  clockwork.Clock
	window time.Duration

	mu     sync.Mutex
	active bool
	until  time.Time
}

func newBanner(clock clockwork.Clock, window time.Duration) *banner {
	return &banner{clock: clock, window: window}
}

func (b *banner) trigger() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if b.active && now.Before(b.until) {
		return false
	}
	b.active = true
	b.until = now.Add(b.window)
	return true
}
