package authkit

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config holds every tunable of a Client. Start from DefaultConfig and
// override; the Builder clones the value it is given.
type Config struct {
	HTTP         HTTPConfig         `yaml:"http"`
	Retry        RetryConfig        `yaml:"retry"`
	Refresh      RefreshConfig      `yaml:"refresh"`
	Encryption   EncryptionConfig   `yaml:"encryption"`
	Notification NotificationConfig `yaml:"notification"`
	Status       StatusConfig       `yaml:"status"`
	Session      SessionConfig      `yaml:"session"`
	Permission   PermissionConfig   `yaml:"permission"`
	Audit        AuditConfig        `yaml:"audit"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

/*
====================================
HTTP CONFIG
====================================
*/

// HTTPConfig describes the backend and the per-request transport limits.
type HTTPConfig struct {
	APIURL    string `yaml:"api_url"`
	APIPrefix string `yaml:"api_prefix"`
	// Timeout bounds one attempt. A timed out attempt is a transient failure.
	Timeout         time.Duration `yaml:"timeout"`
	WithCredentials bool          `yaml:"with_credentials"`
	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes int64  `yaml:"max_response_bytes"`
	UserAgent        string `yaml:"user_agent"`
}

/*
====================================
RETRY CONFIG
====================================
*/

// RetryConfig bounds the fixed-delay retry of transient failures. The
// default of zero extra attempts disables retry.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Delay      time.Duration `yaml:"delay"`
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig names the auth endpoints, relative to the base URL.
type RefreshConfig struct {
	Path        string `yaml:"path"`
	Param       string `yaml:"param"`
	LoginPath   string `yaml:"login_path"`
	ProfilePath string `yaml:"profile_path"`
	LogoutPath  string `yaml:"logout_path"`
	// Timeout bounds the refresh call. Zero uses HTTP.Timeout.
	Timeout time.Duration `yaml:"timeout"`
	// LogoutDelay is how long a forced logout waits after the unauthorized
	// notification.
	LogoutDelay time.Duration `yaml:"logout_delay"`
}

/*
====================================
ENCRYPTION CONFIG
====================================
*/

// EncryptionConfig toggles the request/response envelope. PublicKey is the
// single-line Base64 SPKI key (PEM is accepted too).
type EncryptionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	PublicKey string `yaml:"public_key"`
}

/*
====================================
NOTIFICATION CONFIG
====================================
*/

// NotificationConfig controls the unauthorized banner.
type NotificationConfig struct {
	// UnauthorizedDebounce is the window in which repeated unauthorized
	// notifications are suppressed.
	UnauthorizedDebounce time.Duration `yaml:"unauthorized_debounce"`
}

/*
====================================
STATUS CONFIG
====================================
*/

// StatusConfig holds the business code sentinels.
type StatusConfig struct {
	Success      int `yaml:"success"`
	Unauthorized int `yaml:"unauthorized"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig names the persisted session and its Redis placement.
type SessionConfig struct {
	// Key is the store key of the client's session.
	Key         string        `yaml:"key"`
	RedisPrefix string        `yaml:"redis_prefix"`
	TTL         time.Duration `yaml:"ttl"`
	// Dir is used by file-backed stores.
	Dir string `yaml:"dir"`
}

/*
====================================
PERMISSION CONFIG
====================================
*/

// PermissionConfig sizes the permission decision cache.
type PermissionConfig struct {
	// CacheSize is the number of decisions the permission checker memoizes.
	CacheSize int `yaml:"cache_size"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BufferSize  int           `yaml:"buffer_size"`
	DropIfFull  bool          `yaml:"drop_if_full"`
	SinkTimeout time.Duration `yaml:"sink_timeout"`
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration the original web client shipped
// with. APIURL is left empty and must be set.
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Timeout:          15 * time.Second,
			MaxResponseBytes: 8 << 20,
			UserAgent:        "authkit",
		},
		Retry: RetryConfig{
			MaxRetries: 0,
			Delay:      time.Second,
		},
		Refresh: RefreshConfig{
			Path:        "/auth/refresh",
			Param:       "refreshToken",
			LoginPath:   "/auth/login",
			ProfilePath: "/user/info",
			LogoutPath:  "/auth/logout",
			LogoutDelay: 500 * time.Millisecond,
		},
		Notification: NotificationConfig{
			UnauthorizedDebounce: 3 * time.Second,
		},
		Status: StatusConfig{
			Success:      200,
			Unauthorized: 401,
		},
		Session: SessionConfig{
			Key:         "default",
			RedisPrefix: "authkit:sess",
		},
		Permission: PermissionConfig{
			CacheSize: 512,
		},
		Audit: AuditConfig{
			Enabled:     false,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

// BaseURL joins APIURL and APIPrefix without doubling slashes.
func (c HTTPConfig) BaseURL() string {
	return joinURL(c.APIURL, c.APIPrefix)
}

func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	path = strings.Trim(path, "/")
	switch {
	case path == "":
		return base
	case base == "":
		return "/" + path
	default:
		return base + "/" + path
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTP.APIURL) == "" {
		return ErrNoBaseURL
	}
	u, err := url.Parse(c.HTTP.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("HTTP.APIURL must be an absolute URL")
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("HTTP.Timeout must be > 0")
	}
	if c.HTTP.MaxResponseBytes <= 0 {
		return errors.New("HTTP.MaxResponseBytes must be > 0")
	}

	if c.Retry.MaxRetries < 0 {
		return errors.New("Retry.MaxRetries must be >= 0")
	}
	if c.Retry.MaxRetries > 10 {
		return errors.New("Retry.MaxRetries must be <= 10")
	}
	if c.Retry.Delay < 0 {
		return errors.New("Retry.Delay must be >= 0")
	}

	if !strings.HasPrefix(c.Refresh.Path, "/") {
		return errors.New("Refresh.Path must start with /")
	}
	if strings.TrimSpace(c.Refresh.Param) == "" {
		return errors.New("Refresh.Param must be set")
	}
	if c.Refresh.Timeout < 0 {
		return errors.New("Refresh.Timeout must be >= 0")
	}
	if c.Refresh.LogoutDelay < 0 {
		return errors.New("Refresh.LogoutDelay must be >= 0")
	}

	if c.Encryption.Enabled && strings.TrimSpace(c.Encryption.PublicKey) == "" {
		return ErrEncryptionKey
	}

	if c.Notification.UnauthorizedDebounce < 0 {
		return errors.New("Notification.UnauthorizedDebounce must be >= 0")
	}

	if c.Status.Success == c.Status.Unauthorized {
		return errors.New("Status.Success and Status.Unauthorized must differ")
	}

	if strings.TrimSpace(c.Session.Key) == "" {
		return errors.New("Session.Key must be set")
	}
	if c.Session.TTL < 0 {
		return errors.New("Session.TTL must be >= 0")
	}

	if c.Permission.CacheSize < 0 {
		return errors.New("Permission.CacheSize must be >= 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit.SinkTimeout must be >= 0")
	}

	return nil
}
