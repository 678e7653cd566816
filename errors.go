package authkit

import (
	"errors"
	"fmt"

	"github.com/junoyi/authkit/refresh"
)

var (
	// ErrUnauthorized is matched by every unauthorized HTTPError, including
	// requests whose refresh could not be completed.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrBusiness is matched by HTTPErrors carrying a non-success business code.
	ErrBusiness = errors.New("business error")
	// ErrTransient is matched by timeouts and 5xx family failures that
	// exhausted the retry budget.
	ErrTransient = errors.New("transient failure")
	// ErrNetwork is matched by transport failures.
	ErrNetwork = errors.New("network error")
	// ErrDecode is matched when a success body cannot be decoded into the
	// caller's type.
	ErrDecode = errors.New("response decode failed")
	// ErrEncrypt is matched when a request body cannot be encrypted.
	ErrEncrypt = errors.New("request encryption failed")
	// ErrHTTPStatus is matched by non-2xx responses that are neither
	// unauthorized nor transient.
	ErrHTTPStatus = errors.New("http status error")

	ErrNoBaseURL        = errors.New("base url required")
	ErrBuilderUsed      = errors.New("builder already used")
	ErrEncryptionKey    = errors.New("encryption enabled without a public key")
	ErrNotAuthenticated = errors.New("not authenticated")

	ErrRefreshUnavailable = refresh.ErrRefreshUnavailable
	ErrRefreshFailed      = refresh.ErrRefreshFailed
)

// ErrorKind is the failure class of an HTTPError.
type ErrorKind int

const (
	KindBusiness ErrorKind = iota + 1
	KindTransient
	KindUnauthorized
	KindNetwork
	KindDecode
	KindEncrypt
	KindHTTP
)

func (k ErrorKind) String() string {
	switch k {
	case KindBusiness:
		return "business"
	case KindTransient:
		return "transient"
	case KindUnauthorized:
		return "unauthorized"
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	case KindEncrypt:
		return "encrypt"
	case KindHTTP:
		return "http"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindBusiness:
		return ErrBusiness
	case KindTransient:
		return ErrTransient
	case KindUnauthorized:
		return ErrUnauthorized
	case KindNetwork:
		return ErrNetwork
	case KindDecode:
		return ErrDecode
	case KindEncrypt:
		return ErrEncrypt
	case KindHTTP:
		return ErrHTTPStatus
	default:
		return nil
	}
}

// HTTPError is the error returned to callers for every failed request. Code
// is the business code when the server answered with an envelope, otherwise
// the HTTP status (0 for transport failures).
type HTTPError struct {
	Code    int
	Message string
	Kind    ErrorKind
	Err     error
}

// Error implements error.
func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("authkit: %s error %d: %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("authkit: %s error: %s", e.Kind, msg)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind, so errors.Is(err, ErrUnauthorized)
// holds for any unauthorized HTTPError.
func (e *HTTPError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// AsHTTPError unwraps err into an *HTTPError.
func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}
