package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Method selects the JWS algorithm.
type Method string

const (
	MethodHS256 Method = "hs256"
	MethodEdDSA Method = "ed25519"
)

var (
	ErrNoSigningKey = errors.New("manager has no signing key")
	ErrWrongIssuer  = errors.New("token issuer mismatch")
)

// Config configures a [Manager].
//
// A client that only verifies needs Method plus Secret (HS256) or PublicKey
// (EdDSA). Issuing additionally needs AccessTTL and, for EdDSA, PrivateKey.
type Config struct {
	Method Method

	// Secret is the HS256 shared key.
	Secret []byte
	// PrivateKey and PublicKey are raw or PEM Ed25519 keys. PublicKey is
	// derived from PrivateKey when empty.
	PrivateKey []byte
	PublicKey  []byte

	Issuer    string
	Audience  string
	AccessTTL time.Duration
	Leeway    time.Duration

	// Now replaces the wall clock for issuing and validation.
	Now func() time.Time
}

// Manager issues and verifies access tokens with one key.
type Manager struct {
	cfg       Config
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// AccessClaims are the claims carried by access tokens.
type AccessClaims struct {
	UserID   int64  `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
	jwt.RegisteredClaims
}

// NewManager parses the keys in cfg once and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL < 0 {
		return nil, errors.New("AccessTTL must be >= 0")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("Leeway must be within [0, 2m]")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Manager{cfg: cfg}
	switch cfg.Method {
	case MethodHS256:
		if len(cfg.Secret) == 0 {
			return nil, errors.New("hs256 requires a secret")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey, m.verifyKey = cfg.Secret, cfg.Secret
	case MethodEdDSA:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.signKey = priv
			m.verifyKey = priv.Public().(ed25519.PublicKey)
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			m.verifyKey = pub
		}
		if m.verifyKey == nil {
			return nil, errors.New("ed25519 requires a public or private key")
		}
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.Method)
	}
	return m, nil
}

// Issue signs an access token for the user valid for AccessTTL.
func (m *Manager) Issue(userID int64, userName string) (string, error) {
	if m.signKey == nil {
		return "", ErrNoSigningKey
	}
	if m.cfg.AccessTTL <= 0 {
		return "", errors.New("issuing requires a positive AccessTTL")
	}

	now := m.cfg.Now()
	claims := AccessClaims{
		UserID:   userID,
		UserName: userName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.AccessTTL)),
		},
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}
	return jwt.NewWithClaims(m.method, claims).SignedString(m.signKey)
}

// Verify checks the signature and every registered claim, including exp.
func (m *Manager) Verify(token string) (*AccessClaims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(m.cfg.Now), jwt.WithExpirationRequired()}
	if m.cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(m.cfg.Leeway))
	}
	if m.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer))
	}
	if m.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(m.cfg.Audience))
	}
	return m.parse(token, opts...)
}

// verifySignature checks the signature and issuer but not the time claims,
// so an expired token still yields its exp for session metadata.
func (m *Manager) verifySignature(token string) (*AccessClaims, error) {
	claims, err := m.parse(token, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	if m.cfg.Issuer != "" && claims.Issuer != m.cfg.Issuer {
		return nil, ErrWrongIssuer
	}
	return claims, nil
}

func (m *Manager) parse(token string, opts ...jwt.ParserOption) (*AccessClaims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{m.method.Alg()}))
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, &AccessClaims{}, func(*jwt.Token) (any, error) {
		return m.verifyKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
