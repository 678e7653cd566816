package envelope

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEnvelope is returned when input is not three valid Base64 segments
	// of plausible sizes.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrInvalidPadding is returned when the recovered RSA block is not PKCS#1 v1.5 type 1.
	ErrInvalidPadding = errors.New("invalid padding")
	// ErrAuthenticationFailed is returned when the AES-GCM tag does not verify.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrNoPublicKey is returned when a codec is used without a key.
	ErrNoPublicKey = errors.New("envelope public key not configured")
)

// Stage names the decrypt step that failed.
type Stage string

const (
	StageSplit  Stage = "split"
	StageDecode Stage = "decode"
	StageRSA    Stage = "rsa"
	StagePad    Stage = "padding"
	StageAES    Stage = "aes"
)

// DecryptionError wraps every failure of [Codec.DecryptResponse].
type DecryptionError struct {
	Stage Stage
	Err   error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("envelope: decrypt %s: %v", e.Stage, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

func decryptErr(stage Stage, err error) error {
	return &DecryptionError{Stage: stage, Err: err}
}
