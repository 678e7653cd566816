package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned by Load when no session is stored under the key.
	ErrNotFound = errors.New("session not found")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store persists sessions so they survive a process restart.
type Store interface {
	Load(ctx context.Context, key string) (*Session, error)
	Save(ctx context.Context, key string, sess *Session) error
	Delete(ctx context.Context, key string) error
}

// blobCodec turns sessions into stored bytes, sealing them when a Sealer is
// configured. Unsealed blobs are still readable so a store can be switched to
// sealing without losing existing sessions.
type blobCodec struct {
	sealer *Sealer
}

func (c blobCodec) marshal(sess *Session) ([]byte, error) {
	data, err := Encode(sess)
	if err != nil {
		return nil, err
	}
	if c.sealer == nil {
		return data, nil
	}
	return c.sealer.Seal(data)
}

func (c blobCodec) unmarshal(blob []byte) (*Session, error) {
	if IsSealed(blob) {
		if c.sealer == nil {
			return nil, fmt.Errorf("%w: no sealer configured", ErrSealedCorrupt)
		}
		plain, err := c.sealer.Open(blob)
		if err != nil {
			return nil, err
		}
		blob = plain
	}
	return Decode(blob)
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Session
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*Session)}
}

// Load returns a copy of the stored session, or ErrNotFound.
func (m *MemoryStore) Load(_ context.Context, key string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// Save stores a copy of sess.
func (m *MemoryStore) Save(_ context.Context, key string, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = sess.Clone()
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// RedisStore persists sessions in Redis under prefix:key.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	codec  blobCodec
}

// NewRedisStore returns a RedisStore. ttl of zero keeps sessions until
// deleted. sealer may be nil to store plain encoded sessions.
func NewRedisStore(rdb redis.UniversalClient, prefix string, ttl time.Duration, sealer *Sealer) *RedisStore {
	return &RedisStore{redis: rdb, prefix: prefix, ttl: ttl, codec: blobCodec{sealer: sealer}}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

// Load reads and decodes the session. Sessions stored under an older schema
// are rewritten in the current one, keeping their remaining TTL.
func (s *RedisStore) Load(ctx context.Context, key string) (*Session, error) {
	k := s.key(key)
	blob, err := s.redis.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sess, err := s.codec.unmarshal(blob)
	if err != nil {
		return nil, err
	}

	if err := s.maybeMigrate(ctx, k, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *RedisStore) maybeMigrate(ctx context.Context, k string, sess *Session) error {
	if sess.SchemaVersion == CurrentSchemaVersion {
		return nil
	}

	pttl, err := s.redis.PTTL(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	// -1 means no expiry; -2 means the key vanished
	if pttl == -2*time.Nanosecond || (pttl >= 0 && pttl < time.Millisecond) {
		return nil
	}
	if pttl < 0 {
		pttl = 0
	}

	sess.SchemaVersion = CurrentSchemaVersion
	blob, err := s.codec.marshal(sess)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, k, blob, pttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Save writes sess, sealed when a Sealer is set, with the store TTL.
func (s *RedisStore) Save(ctx context.Context, key string, sess *Session) error {
	blob, err := s.codec.marshal(sess)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(key), blob, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Delete is idempotent.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Ping measures round-trip latency to Redis.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

// FileStore keeps one file per key under dir. Files are written with 0600
// permissions and replaced atomically.
type FileStore struct {
	dir   string
	codec blobCodec
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string, sealer *Sealer) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &FileStore{dir: dir, codec: blobCodec{sealer: sealer}}, nil
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, filepath.Base(key)+".session")
}

// Load reads the session file for key. A missing file is ErrNotFound.
func (f *FileStore) Load(_ context.Context, key string) (*Session, error) {
	blob, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return f.codec.unmarshal(blob)
}

// Save replaces the session file atomically with mode 0600.
func (f *FileStore) Save(_ context.Context, key string, sess *Session) error {
	blob, err := f.codec.marshal(sess)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, ".session-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Delete removes the session file. A missing file is not an error.
func (f *FileStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
