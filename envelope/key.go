package envelope

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

const pemLineWidth = 64

// FormatPublicKeyPEM wraps a single-line Base64 SPKI key into PEM framing with
// 64-character lines. Whitespace inside the input is dropped first. Input that
// is already PEM is returned unchanged.
func FormatPublicKeyPEM(key string) string {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "-----BEGIN") {
		return key
	}
	key = strings.Join(strings.Fields(key), "")

	var b strings.Builder
	b.Grow(len(key) + len(key)/pemLineWidth + 64)
	b.WriteString("-----BEGIN PUBLIC KEY-----\n")
	for len(key) > pemLineWidth {
		b.WriteString(key[:pemLineWidth])
		b.WriteByte('\n')
		key = key[pemLineWidth:]
	}
	b.WriteString(key)
	b.WriteString("\n-----END PUBLIC KEY-----")
	return b.String()
}

// ParsePublicKey parses an RSA public key given as single-line Base64 or PEM.
// Both SPKI ("PUBLIC KEY") and PKCS#1 ("RSA PUBLIC KEY") encodings are accepted.
func ParsePublicKey(key string) (*rsa.PublicKey, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNoPublicKey
	}

	block, _ := pem.Decode([]byte(FormatPublicKeyPEM(key)))
	if block == nil {
		return nil, errors.New("envelope: public key is not valid PEM")
	}

	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("envelope: public key is %T, want RSA", pub)
		}
		return rsaPub, nil
	}

	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("envelope: parse public key: %w", err)
	}
	return pub, nil
}
