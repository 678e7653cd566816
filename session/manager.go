package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultKey is the store key used when none is configured.
const DefaultKey = "default"

// ExpiryFunc extracts issue and expiry times from an access token. ok is
// false when the token carries no readable expiry.
type ExpiryFunc func(accessToken string) (issuedAt, expiresAt time.Time, ok bool)

// Manager owns the live session of one client. Every mutation replaces the
// whole value under the lock and is then written through to the Store, so
// readers never observe a partial update.
type Manager struct {
	store  Store
	key    string
	expiry ExpiryFunc
	now    func() time.Time

	mu   sync.RWMutex
	cur  *Session
	gen  uint64
	subs []func(*Session)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithExpiryFunc sets how token expiry metadata is derived.
func WithExpiryFunc(fn ExpiryFunc) ManagerOption {
	return func(m *Manager) { m.expiry = fn }
}

// WithNow overrides the clock used for RefreshedAt.
func WithNow(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager with an empty session. store may be nil for a
// purely in-memory session.
func NewManager(store Store, key string, opts ...ManagerOption) *Manager {
	if key == "" {
		key = DefaultKey
	}
	m := &Manager{store: store, key: key, now: time.Now, cur: &Session{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Key returns the store key.
func (m *Manager) Key() string {
	return m.key
}

// Restore loads the persisted session, if any. A missing session is not an
// error.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	sess, err := m.store.Load(ctx, m.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	m.replace(sess)
	return nil
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.Clone()
}

// AccessToken returns the current access token.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.AccessToken
}

// RefreshToken returns the current refresh token.
func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.RefreshToken
}

// Permissions returns a copy of the permission list.
func (m *Manager) Permissions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.cur.Permissions...)
}

// Roles returns a copy of the role ids.
func (m *Manager) Roles() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.cur.Roles...)
}

// Generation increases on every mutation. Caches keyed on session content
// compare generations to detect staleness.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// Authenticated reports whether an access token is held.
func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.AccessToken != ""
}

// OnChange registers fn to run after every mutation with a copy of the new
// session.
func (m *Manager) OnChange(fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// SetTokens stores a new token pair, keeping the profile. An empty refresh
// token keeps the previous one.
func (m *Manager) SetTokens(ctx context.Context, accessToken, refreshToken string) error {
	return m.update(ctx, func(s *Session) {
		s.AccessToken = accessToken
		if refreshToken != "" {
			s.RefreshToken = refreshToken
		}
		s.IssuedAt, s.ExpiresAt = 0, 0
		if m.expiry != nil {
			if iat, exp, ok := m.expiry(accessToken); ok {
				if !iat.IsZero() {
					s.IssuedAt = iat.Unix()
				}
				s.ExpiresAt = exp.Unix()
			}
		}
		s.RefreshedAt = m.now().Unix()
	})
}

// SetProfile stores the user profile, keeping the tokens.
func (m *Manager) SetProfile(ctx context.Context, p Profile) error {
	return m.update(ctx, func(s *Session) {
		s.UserID = p.UserID
		s.UserName = p.UserName
		s.Permissions = append([]string(nil), p.Permissions...)
		s.Roles = append([]int(nil), p.Roles...)
	})
}

// Clear drops the session and deletes it from the store.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.cur = &Session{}
	m.gen++
	subs := m.subs
	m.mu.Unlock()

	var err error
	if m.store != nil {
		err = m.store.Delete(ctx, m.key)
	}
	notify(subs, &Session{})
	return err
}

func (m *Manager) update(ctx context.Context, mutate func(*Session)) error {
	m.mu.Lock()
	next := m.cur.Clone()
	mutate(next)
	next.SchemaVersion = CurrentSchemaVersion
	m.cur = next
	m.gen++
	snapshot := next.Clone()
	subs := m.subs
	m.mu.Unlock()

	var err error
	if m.store != nil {
		err = m.store.Save(ctx, m.key, snapshot)
	}
	notify(subs, snapshot)
	return err
}

func (m *Manager) replace(sess *Session) {
	m.mu.Lock()
	m.cur = sess.Clone()
	m.gen++
	snapshot := m.cur.Clone()
	subs := m.subs
	m.mu.Unlock()
	notify(subs, snapshot)
}

func notify(subs []func(*Session), sess *Session) {
	for _, fn := range subs {
		fn(sess.Clone())
	}
}
