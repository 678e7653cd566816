package envelopetest

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/junoyi/authkit/envelope"
)

func gcm(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func seal(key, iv, plaintext []byte) ([]byte, error) {
	aead, err := gcm(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, iv, plaintext, nil), nil
}

func open(key, iv, sealed []byte) ([]byte, error) {
	aead, err := gcm(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, envelope.ErrAuthenticationFailed
	}
	return plaintext, nil
}
