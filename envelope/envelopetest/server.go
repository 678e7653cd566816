// Package envelopetest provides the server half of the envelope protocol for
// tests and local fakes. Production clients never hold the private key.
package envelopetest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"

	"github.com/junoyi/authkit/envelope"
)

// Server owns an RSA private key and mirrors what the API server does with
// envelopes.
type Server struct {
	Key *rsa.PrivateKey
}

// NewServer generates a fresh RSA key of the given size.
func NewServer(bits int) (*Server, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return &Server{Key: key}, nil
}

// MustNewServer is NewServer that panics on error.
func MustNewServer(bits int) *Server {
	s, err := NewServer(bits)
	if err != nil {
		panic(fmt.Sprintf("envelopetest: generate key: %v", err))
	}
	return s
}

// PublicKeyBase64 returns the SPKI public key as one Base64 line, the form
// clients read from configuration.
func (s *Server) PublicKeyBase64() string {
	der, err := x509.MarshalPKIXPublicKey(&s.Key.PublicKey)
	if err != nil {
		panic(fmt.Sprintf("envelopetest: marshal public key: %v", err))
	}
	return base64.StdEncoding.EncodeToString(der)
}

// PublicKeyPEM returns the SPKI public key in PEM framing.
func (s *Server) PublicKeyPEM() string {
	der, err := x509.MarshalPKIXPublicKey(&s.Key.PublicKey)
	if err != nil {
		panic(fmt.Sprintf("envelopetest: marshal public key: %v", err))
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// DecryptRequest opens a body produced by envelope.Codec.EncryptRequest.
func (s *Server) DecryptRequest(body string) (string, error) {
	encryptedKey, iv, sealed, err := envelope.Split(body)
	if err != nil {
		return "", err
	}

	key, err := rsa.DecryptPKCS1v15(nil, s.Key, encryptedKey)
	if err != nil {
		return "", fmt.Errorf("envelopetest: decrypt key: %w", err)
	}

	plaintext, err := open(key, iv, sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncryptResponse produces a response envelope: the AES key is transformed
// with the private key under PKCS#1 v1.5 type-1 framing, exactly what
// rsa.SignPKCS1v15 does when no hash is given.
func (s *Server) EncryptResponse(plaintext string) (string, error) {
	key := make([]byte, envelope.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	iv := make([]byte, envelope.NonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	sealed, err := seal(key, iv, []byte(plaintext))
	if err != nil {
		return "", err
	}

	encryptedKey, err := rsa.SignPKCS1v15(nil, s.Key, crypto.Hash(0), key)
	if err != nil {
		return "", fmt.Errorf("envelopetest: transform key: %w", err)
	}

	return envelope.Join(encryptedKey, iv, sealed), nil
}

// TransformKey applies the private exponent to an arbitrary block with
// type-1 framing; tests use it to craft keys of the wrong length.
func (s *Server) TransformKey(payload []byte) ([]byte, error) {
	return rsa.SignPKCS1v15(nil, s.Key, crypto.Hash(0), payload)
}

// RawPrivateOp applies the private exponent to an already framed block
// without adding any padding.
func (s *Server) RawPrivateOp(block []byte) []byte {
	k := s.Key.Size()
	m := new(big.Int).SetBytes(block)
	c := new(big.Int).Exp(m, s.Key.D, s.Key.N)
	return c.FillBytes(make([]byte, k))
}
