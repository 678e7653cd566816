package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM IV length in bytes.
	NonceSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16

	segmentCount = 3
	separator    = "."
)

// Codec encrypts request bodies and decrypts response bodies with a single
// pre-provisioned RSA public key. A Codec is immutable and safe for
// concurrent use.
type Codec struct {
	pub    *rsa.PublicKey
	random io.Reader
}

// NewCodec returns a [Codec] for pub.
func NewCodec(pub *rsa.PublicKey) (*Codec, error) {
	if pub == nil || pub.N == nil {
		return nil, ErrNoPublicKey
	}
	return &Codec{pub: pub, random: rand.Reader}, nil
}

// NewCodecFromString parses key with [ParsePublicKey] and returns a [Codec].
func NewCodecFromString(key string) (*Codec, error) {
	pub, err := ParsePublicKey(key)
	if err != nil {
		return nil, err
	}
	return NewCodec(pub)
}

// PublicKey returns the codec's RSA public key.
func (c *Codec) PublicKey() *rsa.PublicKey {
	return c.pub
}

// EncryptRequest seals plaintext under a fresh AES-256-GCM key and IV and
// encrypts the key for the server with RSA PKCS#1 v1.5.
func (c *Codec) EncryptRequest(plaintext string) (string, error) {
	if c == nil || c.pub == nil {
		return "", ErrNoPublicKey
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(c.random, key); err != nil {
		return "", fmt.Errorf("envelope: generate key: %w", err)
	}
	iv := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.random, iv); err != nil {
		return "", fmt.Errorf("envelope: generate iv: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)

	encryptedKey, err := rsa.EncryptPKCS1v15(c.random, c.pub, key)
	if err != nil {
		return "", fmt.Errorf("envelope: encrypt key: %w", err)
	}

	return Join(encryptedKey, iv, sealed), nil
}

// DecryptResponse opens an envelope produced by the server. Every failure is
// a *[DecryptionError] wrapping [ErrMalformedEnvelope], [ErrInvalidPadding]
// or [ErrAuthenticationFailed].
func (c *Codec) DecryptResponse(envelope string) (string, error) {
	if c == nil || c.pub == nil {
		return "", decryptErr(StageRSA, ErrNoPublicKey)
	}

	encryptedKey, iv, sealed, err := Split(envelope)
	if err != nil {
		return "", err
	}

	block, err := rawPublicOp(c.pub, encryptedKey)
	if err != nil {
		return "", decryptErr(StageRSA, err)
	}

	key, err := stripType1Padding(block)
	if err != nil {
		return "", decryptErr(StagePad, err)
	}

	if len(key) != KeySize {
		return "", decryptErr(StagePad, fmt.Errorf("%w: recovered key is %d bytes", ErrInvalidPadding, len(key)))
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", decryptErr(StageAES, err)
	}

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", decryptErr(StageAES, ErrAuthenticationFailed)
	}
	return string(plaintext), nil
}

// Join encodes the three envelope parts.
func Join(encryptedKey, iv, sealed []byte) string {
	return base64.StdEncoding.EncodeToString(encryptedKey) +
		separator + base64.StdEncoding.EncodeToString(iv) +
		separator + base64.StdEncoding.EncodeToString(sealed)
}

// Split trims surrounding whitespace and decodes the three envelope parts.
// sealed is the ciphertext with the 16-byte tag still appended.
func Split(envelope string) (encryptedKey, iv, sealed []byte, err error) {
	parts := strings.Split(strings.TrimSpace(envelope), separator)
	if len(parts) != segmentCount {
		return nil, nil, nil, decryptErr(StageSplit,
			fmt.Errorf("%w: want %d segments, got %d", ErrMalformedEnvelope, segmentCount, len(parts)))
	}

	decoded := make([][]byte, segmentCount)
	for i, part := range parts {
		raw, err := decodeSegment(part)
		if err != nil || len(raw) == 0 {
			return nil, nil, nil, decryptErr(StageDecode,
				fmt.Errorf("%w: segment %d is not base64", ErrMalformedEnvelope, i))
		}
		decoded[i] = raw
	}

	if len(decoded[1]) != NonceSize {
		return nil, nil, nil, decryptErr(StageDecode,
			fmt.Errorf("%w: iv is %d bytes", ErrMalformedEnvelope, len(decoded[1])))
	}
	if len(decoded[2]) < TagSize {
		return nil, nil, nil, decryptErr(StageDecode,
			fmt.Errorf("%w: ciphertext shorter than tag", ErrMalformedEnvelope))
	}

	return decoded[0], decoded[1], decoded[2], nil
}

// LooksLikeEnvelope is a cheap syntactic check: three non-empty dot-separated
// segments made only of Base64 characters.
func LooksLikeEnvelope(s string) bool {
	parts := strings.Split(strings.TrimSpace(s), separator)
	if len(parts) != segmentCount {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		for i := 0; i < len(part); i++ {
			ch := part[i]
			switch {
			case ch >= 'A' && ch <= 'Z', ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			case ch == '+' || ch == '/' || ch == '=':
			default:
				return false
			}
		}
	}
	return true
}

func decodeSegment(s string) ([]byte, error) {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: aes: %w", err)
	}
	return cipher.NewGCM(block)
}
