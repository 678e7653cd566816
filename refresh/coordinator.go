package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrRefreshUnavailable is returned when no refresh token is held.
	ErrRefreshUnavailable = errors.New("refresh token unavailable")
	// ErrRefreshFailed is returned to the leader and every queued caller when
	// the refresh call fails.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// State is the coordinator state.
type State int

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TokenPair is the result of a successful refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenStore is the session view the coordinator reads and updates.
type TokenStore interface {
	AccessToken() string
	RefreshToken() string
	SetTokens(ctx context.Context, pair TokenPair) error
}

// RefreshFunc performs the refresh call. It must not route through the
// coordinator.
type RefreshFunc func(ctx context.Context, refreshToken string) (TokenPair, error)

// RetryFunc re-issues the original request with accessToken.
type RetryFunc func(ctx context.Context, accessToken string) error

// Hooks observe coordinator transitions. Nil hooks are skipped. Hooks run on
// the leader's goroutine and must not block.
type Hooks struct {
	OnStart   func()
	OnQueued  func()
	OnSuccess func()
	OnFailure func(err error)
}

// Options configures a Coordinator.
type Options struct {
	// Timeout bounds the refresh call. Zero means no bound beyond ctx.
	Timeout time.Duration
	Hooks   Hooks
}

type outcome struct {
	token string
	err   error
}

// Coordinator is the single-flight refresh state machine. It is safe for
// concurrent use.
type Coordinator struct {
	store   TokenStore
	refresh RefreshFunc
	opts    Options

	mu      sync.Mutex
	state   State
	waiters []chan outcome
}

// NewCoordinator returns an Idle coordinator.
func NewCoordinator(store TokenStore, fn RefreshFunc, opts Options) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("refresh: token store is nil")
	}
	if fn == nil {
		return nil, errors.New("refresh: refresh func is nil")
	}
	return &Coordinator{store: store, refresh: fn, opts: opts}, nil
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of queued callers.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// HandleUnauthorized obtains a fresh access token, joining an in-flight
// refresh if there is one, and then calls retry with it once.
//
// usedToken is the access token the failed request carried. If the session
// already holds a different access token, a refresh completed after that
// request was sent and retry runs with the current token directly. Pass ""
// to always refresh.
func (c *Coordinator) HandleUnauthorized(ctx context.Context, usedToken string, retry RetryFunc) error {
	token, err := c.Token(ctx, usedToken)
	if err != nil {
		return err
	}
	return retry(ctx, token)
}

// Token returns a fresh access token. See HandleUnauthorized for usedToken.
func (c *Coordinator) Token(ctx context.Context, usedToken string) (string, error) {
	c.mu.Lock()

	if c.state == StateRefreshing {
		ch := make(chan outcome, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()
		c.hook(c.opts.Hooks.OnQueued)

		select {
		case out := <-ch:
			return out.token, out.err
		case <-ctx.Done():
			c.forget(ch)
			return "", ctx.Err()
		}
	}

	if usedToken != "" {
		if current := c.store.AccessToken(); current != "" && current != usedToken {
			c.mu.Unlock()
			return current, nil
		}
	}

	refreshToken := c.store.RefreshToken()
	if refreshToken == "" {
		c.mu.Unlock()
		return "", ErrRefreshUnavailable
	}

	c.state = StateRefreshing
	c.mu.Unlock()
	c.hook(c.opts.Hooks.OnStart)

	token, err := c.lead(ctx, refreshToken)
	c.finish(outcome{token: token, err: err})

	if err != nil {
		if c.opts.Hooks.OnFailure != nil {
			c.opts.Hooks.OnFailure(err)
		}
		return "", err
	}
	c.hook(c.opts.Hooks.OnSuccess)
	return token, nil
}

func (c *Coordinator) lead(ctx context.Context, refreshToken string) (string, error) {
	// queued callers depend on this call, so the leader's cancellation must
	// not abort it
	rctx := context.WithoutCancel(ctx)
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(rctx, c.opts.Timeout)
		defer cancel()
	}

	pair, err := c.refresh(rctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if pair.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrRefreshFailed)
	}
	if err := c.store.SetTokens(rctx, pair); err != nil {
		return "", fmt.Errorf("%w: persist tokens: %w", ErrRefreshFailed, err)
	}
	return pair.AccessToken, nil
}

func (c *Coordinator) finish(out outcome) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.state = StateIdle
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- out
	}
}

func (c *Coordinator) forget(ch chan outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) hook(fn func()) {
	if fn != nil {
		fn()
	}
}
