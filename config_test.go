package authkit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTP.APIURL = "http://127.0.0.1:8080"
	return cfg
}

func TestDefaultConfigMatchesClientDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.HTTP.Timeout != 15*time.Second {
		t.Fatalf("timeout: got %s", cfg.HTTP.Timeout)
	}
	if cfg.Retry.MaxRetries != 0 || cfg.Retry.Delay != time.Second {
		t.Fatalf("retry: got %+v", cfg.Retry)
	}
	if cfg.Notification.UnauthorizedDebounce != 3*time.Second {
		t.Fatalf("debounce: got %s", cfg.Notification.UnauthorizedDebounce)
	}
	if cfg.Refresh.LogoutDelay != 500*time.Millisecond {
		t.Fatalf("logout delay: got %s", cfg.Refresh.LogoutDelay)
	}
	if cfg.Status.Success != 200 || cfg.Status.Unauthorized != 401 {
		t.Fatalf("status codes: got %+v", cfg.Status)
	}
	if cfg.Refresh.Path != "/auth/refresh" || cfg.Refresh.Param != "refreshToken" {
		t.Fatalf("refresh endpoint: got %s?%s=", cfg.Refresh.Path, cfg.Refresh.Param)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "defaults with url", mutate: func(*Config) {}, wantValid: true},
		{name: "missing url", mutate: func(c *Config) { c.HTTP.APIURL = "" }, wantValid: false},
		{name: "relative url", mutate: func(c *Config) { c.HTTP.APIURL = "/api" }, wantValid: false},
		{name: "zero timeout", mutate: func(c *Config) { c.HTTP.Timeout = 0 }, wantValid: false},
		{name: "zero body cap", mutate: func(c *Config) { c.HTTP.MaxResponseBytes = 0 }, wantValid: false},
		{name: "negative retries", mutate: func(c *Config) { c.Retry.MaxRetries = -1 }, wantValid: false},
		{name: "too many retries", mutate: func(c *Config) { c.Retry.MaxRetries = 11 }, wantValid: false},
		{name: "three retries", mutate: func(c *Config) { c.Retry.MaxRetries = 3 }, wantValid: true},
		{name: "negative delay", mutate: func(c *Config) { c.Retry.Delay = -time.Second }, wantValid: false},
		{name: "refresh path without slash", mutate: func(c *Config) { c.Refresh.Path = "auth/refresh" }, wantValid: false},
		{name: "blank refresh param", mutate: func(c *Config) { c.Refresh.Param = " " }, wantValid: false},
		{name: "negative logout delay", mutate: func(c *Config) { c.Refresh.LogoutDelay = -1 }, wantValid: false},
		{name: "encryption without key", mutate: func(c *Config) { c.Encryption.Enabled = true }, wantValid: false},
		{name: "negative debounce", mutate: func(c *Config) { c.Notification.UnauthorizedDebounce = -1 }, wantValid: false},
		{name: "equal status codes", mutate: func(c *Config) { c.Status.Unauthorized = c.Status.Success }, wantValid: false},
		{name: "blank session key", mutate: func(c *Config) { c.Session.Key = "" }, wantValid: false},
		{name: "negative cache", mutate: func(c *Config) { c.Permission.CacheSize = -1 }, wantValid: false},
		{name: "negative audit sink timeout", mutate: func(c *Config) { c.Audit.SinkTimeout = -time.Second }, wantValid: false},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatalf("expected invalid config")
			}
		})
	}
}

func TestValidateMissingURLIsSentinel(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrNoBaseURL) {
		t.Fatalf("expected ErrNoBaseURL, got %v", err)
	}
}

func TestBaseURLJoin(t *testing.T) {
	tests := []struct {
		url, prefix, want string
	}{
		{"http://h:1", "", "http://h:1"},
		{"http://h:1/", "/api", "http://h:1/api"},
		{"http://h:1", "api/", "http://h:1/api"},
		{"http://h:1//", "//dev-api", "http://h:1/dev-api"},
	}
	for _, tc := range tests {
		got := HTTPConfig{APIURL: tc.url, APIPrefix: tc.prefix}.BaseURL()
		if got != tc.want {
			t.Fatalf("BaseURL(%q, %q) = %q, want %q", tc.url, tc.prefix, got, tc.want)
		}
	}
}

func TestLoadConfigFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authkit.yaml")
	data := []byte(`
http:
  api_url: http://example.test
  api_prefix: /dev-api
  timeout: 2s
retry:
  max_retries: 2
  delay: 250ms
encryption:
  enabled: false
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.BaseURL() != "http://example.test/dev-api" {
		t.Fatalf("base url: %s", cfg.HTTP.BaseURL())
	}
	if cfg.HTTP.Timeout != 2*time.Second || cfg.Retry.MaxRetries != 2 || cfg.Retry.Delay != 250*time.Millisecond {
		t.Fatalf("overrides not applied: %+v %+v", cfg.HTTP, cfg.Retry)
	}
	if cfg.Refresh.Path != "/auth/refresh" || cfg.Status.Success != 200 {
		t.Fatalf("defaults lost: %+v %+v", cfg.Refresh, cfg.Status)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config invalid: %v", err)
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("http: [unclosed"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAPIURL:          "http://env.test",
		EnvAPIPrefix:       "/prod-api",
		EnvWithCredentials: "true",
		EnvEncrypt:         "true",
		EnvPublicKey:       " KEY ",
		EnvTimeout:         "3000",
		EnvMaxRetries:      "1",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := applyEnv(&cfg, lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.HTTP.APIURL != "http://env.test" || cfg.HTTP.APIPrefix != "/prod-api" || !cfg.HTTP.WithCredentials {
		t.Fatalf("http section: %+v", cfg.HTTP)
	}
	if !cfg.Encryption.Enabled || cfg.Encryption.PublicKey != "KEY" {
		t.Fatalf("encryption section: %+v", cfg.Encryption)
	}
	if cfg.HTTP.Timeout != 3*time.Second {
		t.Fatalf("millisecond timeout: got %s", cfg.HTTP.Timeout)
	}
	if cfg.Retry.MaxRetries != 1 {
		t.Fatalf("max retries: got %d", cfg.Retry.MaxRetries)
	}

	env[EnvTimeout] = "750ms"
	if err := applyEnv(&cfg, lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.HTTP.Timeout != 750*time.Millisecond {
		t.Fatalf("duration timeout: got %s", cfg.HTTP.Timeout)
	}

	env[EnvEncrypt] = "sometimes"
	if err := applyEnv(&cfg, lookup); err == nil {
		t.Fatalf("expected bool parse error")
	}
}
