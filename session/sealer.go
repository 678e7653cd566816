package session

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealMagic      = "AKS1"
	sealSaltLength = 16
	minSecretBytes = 16
	maxCachedKeys  = 8
)

// ErrSealedCorrupt is returned when a sealed blob cannot be opened.
var ErrSealedCorrupt = errors.New("sealed session corrupt")

// SealerConfig sets the argon2id cost used to derive the sealing key.
type SealerConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

// DefaultSealerConfig returns moderate argon2id costs suitable for a client
// process that derives the key once at startup.
func DefaultSealerConfig() SealerConfig {
	return SealerConfig{Memory: 19 * 1024, Time: 2, Parallelism: 1}
}

// Sealer encrypts encoded sessions at rest with XChaCha20-Poly1305 under a
// key derived from a secret with argon2id. Layout:
//
//	"AKS1" | salt(16) | nonce(24) | ciphertext+tag
//
// The salt is chosen once per Sealer, so the derivation cost is paid once.
// Blobs written under another salt are opened by deriving that key on
// demand.
type Sealer struct {
	secret []byte
	cfg    SealerConfig
	salt   []byte
	key    []byte

	mu    sync.Mutex
	cache map[string][]byte
}

// NewSealer derives the sealing key from secret.
func NewSealer(secret []byte, cfg SealerConfig) (*Sealer, error) {
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("session: sealer secret must be at least %d bytes", minSecretBytes)
	}
	if cfg.Memory < 8*1024 || cfg.Time < 1 || cfg.Parallelism < 1 {
		return nil, errors.New("session: sealer argon2 parameters too weak")
	}

	salt := make([]byte, sealSaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	s := &Sealer{
		secret: append([]byte(nil), secret...),
		cfg:    cfg,
		salt:   salt,
		cache:  make(map[string][]byte),
	}
	s.key = s.derive(salt)
	return s, nil
}

func (s *Sealer) derive(salt []byte) []byte {
	return argon2.IDKey(s.secret, salt, s.cfg.Time, s.cfg.Memory, s.cfg.Parallelism, chacha20poly1305.KeySize)
}

func (s *Sealer) keyFor(salt []byte) []byte {
	if bytes.Equal(salt, s.salt) {
		return s.key
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.cache[string(salt)]; ok {
		return key
	}
	if len(s.cache) >= maxCachedKeys {
		clear(s.cache)
	}
	key := s.derive(salt)
	s.cache[string(salt)] = key
	return key
}

// Seal encrypts plaintext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(sealMagic)+sealSaltLength+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out = append(out, sealMagic...)
	out = append(out, s.salt...)

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out = append(out, nonce...)

	header := append([]byte(nil), out[:len(sealMagic)+sealSaltLength]...)
	return aead.Seal(out, nonce, plaintext, header), nil
}

// Open decrypts a blob produced by Seal with the same secret.
func (s *Sealer) Open(blob []byte) ([]byte, error) {
	headerLen := len(sealMagic) + sealSaltLength
	if len(blob) < headerLen+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, ErrSealedCorrupt
	}
	if string(blob[:len(sealMagic)]) != sealMagic {
		return nil, ErrSealedCorrupt
	}

	salt := blob[len(sealMagic):headerLen]
	aead, err := chacha20poly1305.NewX(s.keyFor(salt))
	if err != nil {
		return nil, err
	}

	nonce := blob[headerLen : headerLen+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, blob[headerLen+aead.NonceSize():], blob[:headerLen])
	if err != nil {
		return nil, ErrSealedCorrupt
	}
	return plaintext, nil
}

// IsSealed reports whether blob carries the sealed header.
func IsSealed(blob []byte) bool {
	return len(blob) >= len(sealMagic) && string(blob[:len(sealMagic)]) == sealMagic
}
