package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type memStore struct {
	mu      sync.Mutex
	access  string
	refresh string
	sets    int
}

func (s *memStore) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access
}

func (s *memStore) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh
}

func (s *memStore) SetTokens(_ context.Context, pair TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access, s.refresh = pair.AccessToken, pair.RefreshToken
	s.sets++
	return nil
}

// waitPending polls until n callers are queued.
func waitPending(t *testing.T, c *Coordinator, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Pending() == n }, 5*time.Second, time.Millisecond)
}

func TestConcurrentUnauthorizedSharesOneRefresh(t *testing.T) {
	const callers = 16

	store := &memStore{access: "a0", refresh: "r0"}
	release := make(chan struct{})
	var calls atomic.Int32

	c, err := NewCoordinator(store, func(ctx context.Context, rt string) (TokenPair, error) {
		calls.Add(1)
		assert.Equal(t, "r0", rt)
		<-release
		return TokenPair{AccessToken: "a1", RefreshToken: "r1"}, nil
	}, Options{})
	require.NoError(t, err)

	var retried sync.Map
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			return c.HandleUnauthorized(ctx, "a0", func(_ context.Context, token string) error {
				retried.Store(i, token)
				return nil
			})
		})
	}

	waitPending(t, c, callers-1)
	assert.Equal(t, StateRefreshing, c.State())
	close(release)
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, store.sets)
	assert.Equal(t, "r1", store.RefreshToken())

	n := 0
	retried.Range(func(_, v any) bool {
		n++
		assert.Equal(t, "a1", v)
		return true
	})
	assert.Equal(t, callers, n)
}

func TestRefreshFailureFailsQueuedCallersWithoutRetry(t *testing.T) {
	store := &memStore{access: "a0", refresh: "r0"}
	release := make(chan struct{})
	upstream := errors.New("http 500")

	var failures atomic.Int32
	c, err := NewCoordinator(store, func(context.Context, string) (TokenPair, error) {
		<-release
		return TokenPair{}, upstream
	}, Options{Hooks: Hooks{OnFailure: func(error) { failures.Add(1) }}})
	require.NoError(t, err)

	var retries atomic.Int32
	retry := func(context.Context, string) error {
		retries.Add(1)
		return nil
	}

	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() { errs <- c.HandleUnauthorized(context.Background(), "a0", retry) }()
		if i == 0 {
			require.Eventually(t, func() bool { return c.State() == StateRefreshing }, time.Second, time.Millisecond)
		}
	}

	waitPending(t, c, 3)
	close(release)

	for i := 0; i < 4; i++ {
		err := <-errs
		assert.ErrorIs(t, err, ErrRefreshFailed)
	}
	assert.Zero(t, retries.Load())
	assert.Equal(t, int32(1), failures.Load())
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, "r0", store.RefreshToken())
}

func TestLeaderSeesUpstreamCause(t *testing.T) {
	store := &memStore{access: "a0", refresh: "r0"}
	upstream := errors.New("boom")
	c, err := NewCoordinator(store, func(context.Context, string) (TokenPair, error) {
		return TokenPair{}, upstream
	}, Options{})
	require.NoError(t, err)

	_, err = c.Token(context.Background(), "")
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, upstream)
}

func TestNoRefreshTokenIsUnavailable(t *testing.T) {
	store := &memStore{access: "a0"}
	var calls atomic.Int32
	c, err := NewCoordinator(store, func(context.Context, string) (TokenPair, error) {
		calls.Add(1)
		return TokenPair{}, nil
	}, Options{})
	require.NoError(t, err)

	err = c.HandleUnauthorized(context.Background(), "a0", func(context.Context, string) error {
		t.Fatal("retry must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrRefreshUnavailable)
	assert.Zero(t, calls.Load())
	assert.Equal(t, StateIdle, c.State())
}

func TestStaleTokenSkipsRefresh(t *testing.T) {
	store := &memStore{access: "a1", refresh: "r1"}
	c, err := NewCoordinator(store, func(context.Context, string) (TokenPair, error) {
		t.Fatal("refresh must not run")
		return TokenPair{}, nil
	}, Options{})
	require.NoError(t, err)

	token, err := c.Token(context.Background(), "a0")
	require.NoError(t, err)
	assert.Equal(t, "a1", token)
}

func TestEmptyAccessTokenIsFailure(t *testing.T) {
	store := &memStore{access: "a0", refresh: "r0"}
	c, err := NewCoordinator(store, func(context.Context, string) (TokenPair, error) {
		return TokenPair{RefreshToken: "r1"}, nil
	}, Options{})
	require.NoError(t, err)

	_, err = c.Token(context.Background(), "")
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.Zero(t, store.sets)
}

func TestLeaderCancellationDoesNotAbortRefresh(t *testing.T) {
	store := &memStore{access: "a0", refresh: "r0"}
	release := make(chan struct{})
	c, err := NewCoordinator(store, func(ctx context.Context, _ string) (TokenPair, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return TokenPair{}, err
		}
		return TokenPair{AccessToken: "a1", RefreshToken: "r1"}, nil
	}, Options{})
	require.NoError(t, err)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := c.Token(leaderCtx, "")
		leaderDone <- err
	}()
	require.Eventually(t, func() bool { return c.State() == StateRefreshing }, time.Second, time.Millisecond)

	follower := make(chan string, 1)
	go func() {
		token, _ := c.Token(context.Background(), "")
		follower <- token
	}()
	waitPending(t, c, 1)

	cancel()
	close(release)

	require.NoError(t, <-leaderDone)
	assert.Equal(t, "a1", <-follower)
}

func TestQueuedCallerContextCancel(t *testing.T) {
	store := &memStore{access: "a0", refresh: "r0"}
	release := make(chan struct{})
	c, err := NewCoordinator(store, func(context.Context, string) (TokenPair, error) {
		<-release
		return TokenPair{AccessToken: "a1", RefreshToken: "r1"}, nil
	}, Options{})
	require.NoError(t, err)

	go func() { _, _ = c.Token(context.Background(), "") }()
	require.Eventually(t, func() bool { return c.State() == StateRefreshing }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Token(ctx, "")
		done <- err
	}()
	waitPending(t, c, 1)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, c.Pending())
	close(release)
}

func TestRefreshTimeout(t *testing.T) {
	store := &memStore{access: "a0", refresh: "r0"}
	c, err := NewCoordinator(store, func(ctx context.Context, _ string) (TokenPair, error) {
		<-ctx.Done()
		return TokenPair{}, ctx.Err()
	}, Options{Timeout: 10 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.Token(context.Background(), "")
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewCoordinatorValidates(t *testing.T) {
	_, err := NewCoordinator(nil, func(context.Context, string) (TokenPair, error) { return TokenPair{}, nil }, Options{})
	assert.Error(t, err)
	_, err = NewCoordinator(&memStore{}, nil, Options{})
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "refreshing", StateRefreshing.String())
}
