package authkit

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvAPIURL          = "AUTHKIT_API_URL"
	EnvAPIPrefix       = "AUTHKIT_API_PREFIX"
	EnvWithCredentials = "AUTHKIT_WITH_CREDENTIALS"
	EnvEncrypt         = "AUTHKIT_API_ENCRYPT"
	EnvPublicKey       = "AUTHKIT_API_ENCRYPT_PUBLIC_KEY"
	EnvTimeout         = "AUTHKIT_TIMEOUT"
	EnvMaxRetries      = "AUTHKIT_MAX_RETRIES"
)

// LoadConfigFile reads a YAML file over DefaultConfig. Fields absent from
// the file keep their defaults; durations are written as "15s", "500ms".
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := ParseConfig(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML into cfg, leaving fields absent from data as they are.
func ParseConfig(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays the AUTHKIT_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAPIURL); ok {
		cfg.HTTP.APIURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvAPIPrefix); ok {
		cfg.HTTP.APIPrefix = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvWithCredentials); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWithCredentials, err)
		}
		cfg.HTTP.WithCredentials = b
	}
	if v, ok := lookup(EnvEncrypt); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvEncrypt, err)
		}
		cfg.Encryption.Enabled = b
	}
	if v, ok := lookup(EnvPublicKey); ok {
		cfg.Encryption.PublicKey = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvTimeout); ok {
		d, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		cfg.HTTP.Timeout = d
	}
	if v, ok := lookup(EnvMaxRetries); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxRetries, err)
		}
		cfg.Retry.MaxRetries = n
	}
	return nil
}

// parseTimeout accepts a Go duration or a bare millisecond count.
func parseTimeout(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}
