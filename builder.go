package authkit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/junoyi/authkit/envelope"
	"github.com/junoyi/authkit/internal/audit"
	"github.com/junoyi/authkit/internal/flows"
	"github.com/junoyi/authkit/jwt"
	"github.com/junoyi/authkit/permission"
	"github.com/junoyi/authkit/refresh"
	"github.com/junoyi/authkit/session"
	"github.com/sirupsen/logrus"
)

// Builder assembles a Client. A Builder can be built once.
type Builder struct {
	config Config

	logger     logrus.FieldLogger
	clock      clockwork.Clock
	store      session.Store
	httpClient *http.Client
	auditSink  AuditSink
	notifier   Notifier
	expiry     session.ExpiryFunc
	verifier   *jwt.Manager

	built bool
}

// New starts a Builder from DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBaseURL sets HTTP.APIURL and HTTP.APIPrefix.
func (b *Builder) WithBaseURL(apiURL, prefix string) *Builder {
	b.config.HTTP.APIURL = apiURL
	b.config.HTTP.APIPrefix = prefix
	return b
}

// WithLogger sets the logger. The default writes JSON at Info to stderr.
func (b *Builder) WithLogger(l logrus.FieldLogger) *Builder {
	b.logger = l
	return b
}

// WithClock replaces the wall clock used for debounce, forced logout and
// retry waits.
func (b *Builder) WithClock(c clockwork.Clock) *Builder {
	b.clock = c
	return b
}

// WithStore sets where the session is persisted. The default keeps it in
// memory only.
func (b *Builder) WithStore(s session.Store) *Builder {
	b.store = s
	return b
}

// WithHTTPClient sets the underlying client. Its Timeout should be zero;
// per-attempt timeouts come from the config.
func (b *Builder) WithHTTPClient(hc *http.Client) *Builder {
	b.httpClient = hc
	return b
}

// WithAuditSink sets where audit events go when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithNotifier receives success, error and unauthorized notices. The
// default discards them.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithExpiryFunc overrides how session expiry is derived from access
// tokens. The default reads the JWT iat and exp claims without verifying.
// It takes precedence over WithTokenVerifier.
func (b *Builder) WithExpiryFunc(fn session.ExpiryFunc) *Builder {
	b.expiry = fn
	return b
}

// WithTokenVerifier makes session expiry come only from access tokens whose
// signature and issuer check out against m. Tokens that fail leave the
// session without expiry metadata.
func (b *Builder) WithTokenVerifier(m *jwt.Manager) *Builder {
	b.verifier = m
	return b
}

// WithMetricsEnabled turns the in-process counters on or off.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms records request and refresh latency buckets.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, restores any persisted session and
// returns the Client.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// -------- AMBIENT --------
	logger := b.logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetFormatter(&logrus.JSONFormatter{})
		l.SetLevel(logrus.InfoLevel)
		logger = l
	}
	clock := b.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	notifier := b.notifier
	if notifier == nil {
		notifier = discardNotifier{}
	}

	// -------- TRANSPORT --------
	hc := b.httpClient
	if hc == nil {
		hc = &http.Client{}
	}
	if cfg.HTTP.WithCredentials && hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		copied := *hc
		copied.Jar = jar
		hc = &copied
	}

	// -------- SESSION --------
	store := b.store
	if store == nil {
		store = session.NewMemoryStore()
	}
	expiry := b.expiry
	if expiry == nil {
		expiry = jwt.NewInspector(b.verifier).Expiry
	}
	mgr := session.NewManager(store, cfg.Session.Key,
		session.WithExpiryFunc(expiry),
		session.WithNow(clock.Now),
	)
	if err := mgr.Restore(context.Background()); err != nil {
		logger.WithError(err).Warn("authkit: could not restore persisted session")
	}

	checker, err := permission.NewChecker(mgr, cfg.Permission.CacheSize)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		baseURL: cfg.HTTP.BaseURL(),
		codes: flows.Codes{
			Success:      cfg.Status.Success,
			Unauthorized: cfg.Status.Unauthorized,
		},
		http:     hc,
		log:      logger,
		clock:    clock,
		session:  mgr,
		checker:  checker,
		metrics:  NewMetrics(cfg.Metrics),
		notifier: notifier,
		banner:   newBanner(clock, cfg.Notification.UnauthorizedDebounce),
	}

	// -------- ENCRYPTION --------
	if key := cfg.Encryption.PublicKey; key != "" {
		codec, err := envelope.NewCodecFromString(key)
		if err != nil {
			return nil, fmt.Errorf("encryption public key: %w", err)
		}
		c.crypto.Store(&cryptoState{codec: codec, enabled: cfg.Encryption.Enabled})
	}

	// -------- REFRESH --------
	timeout := cfg.Refresh.Timeout
	if timeout <= 0 {
		timeout = cfg.HTTP.Timeout
	}
	coord, err := refresh.NewCoordinator(tokenStore{m: mgr}, c.refreshTokens, refresh.Options{
		Timeout: timeout,
		Hooks: refresh.Hooks{
			OnStart:   func() { c.metrics.Inc(MetricRefreshStarted) },
			OnQueued:  func() { c.metrics.Inc(MetricRefreshQueued) },
			OnSuccess: func() { c.metrics.Inc(MetricRefreshSuccess) },
			OnFailure: func(error) { c.metrics.Inc(MetricRefreshFailure) },
		},
	})
	if err != nil {
		return nil, err
	}
	c.coord = coord

	// -------- AUDIT --------
	c.audit = audit.NewDispatcher(audit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: cfg.Audit.SinkTimeout,
		Now:         c.clock.Now,
		RequestID: func(ctx context.Context) string {
			id, _ := RequestIDFromContext(ctx)
			return id
		},
		OnDrop: func(ev audit.Event) {
			c.log.WithField("event", ev.EventType).Debug("authkit: audit buffer full, event dropped")
		},
	}, b.auditSink)

	b.built = true
	return c, nil
}
