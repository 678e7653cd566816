package authkit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/junoyi/authkit/envelope"
	"github.com/junoyi/authkit/envelope/envelopetest"
	"github.com/junoyi/authkit/internal/testbackend"
	"github.com/junoyi/authkit/jwt"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var (
	cryptoOnce   sync.Once
	cryptoServer *envelopetest.Server
)

func sharedCrypto(t *testing.T) *envelopetest.Server {
	t.Helper()
	cryptoOnce.Do(func() {
		cryptoServer = envelopetest.MustNewServer(2048)
	})
	return cryptoServer
}

type noteRecorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *noteRecorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *noteRecorder) count(level NotifyLevel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.Level == level {
			n++
		}
	}
	return n
}

func (r *noteRecorder) last(level NotifyLevel) (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.notes) - 1; i >= 0; i-- {
		if r.notes[i].Level == level {
			return r.notes[i], true
		}
	}
	return Notification{}, false
}

type testEnv struct {
	backend *testbackend.Backend
	server  *httptest.Server
	client  *Client
	notes   *noteRecorder
}

type envOptions struct {
	backend testbackend.Options
	config  func(*Config)
	builder func(*Builder)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	backend, err := testbackend.New(opts.backend)
	require.NoError(t, err)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.HTTP.APIURL = srv.URL
	cfg.HTTP.Timeout = 5 * time.Second
	if opts.config != nil {
		opts.config(&cfg)
	}

	notes := &noteRecorder{}
	b := New().WithConfig(cfg).WithLogger(quietLogger()).WithNotifier(notes)
	if opts.builder != nil {
		opts.builder(b)
	}
	client, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return &testEnv{backend: backend, server: srv, client: client, notes: notes}
}

func (e *testEnv) login(t *testing.T, user string) {
	t.Helper()
	require.NoError(t, e.client.Login(context.Background(), Credentials{UserName: user, Password: "123456"}))
}

func (e *testEnv) requests(path string) []testbackend.Recorded {
	var out []testbackend.Recorded
	for _, r := range e.backend.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func TestLoginProfileAndPermissions(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	env.login(t, "admin")
	require.True(t, env.client.Session().Authenticated())

	p, err := env.client.LoadProfile(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), p.UserID)
	require.Equal(t, "admin", p.UserName)

	require.True(t, env.client.HasPermission("system.menu.edit"))
	require.False(t, env.client.HasPermission("system.menu.delete"))
	require.True(t, env.client.HasPermission("monitor.server.cpu.load"))
	require.True(t, env.client.HasAnyPermission("system.menu.delete", "system.user.add"))
	require.False(t, env.client.HasAllPermissions("system.menu.delete", "system.user.add"))
	require.True(t, env.client.HasRole(2))
	require.False(t, env.client.HasRole(3))
	require.False(t, env.client.IsSuperAdmin())
	require.True(t, env.client.HasAuth("system.user.export", "system.user.export"))

	info := env.requests("/user/info")
	require.Len(t, info, 1)
	require.Equal(t, jwt.Bearer(env.client.Session().AccessToken()), info[0].Authorization)
}

func TestSuperAdminByRoleAndWildcard(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.login(t, "super")
	_, err := env.client.LoadProfile(context.Background())
	require.NoError(t, err)

	require.True(t, env.client.IsSuperAdmin())
	require.True(t, env.client.HasPermission("anything.at.all"))
	require.True(t, env.client.HasRole(7))
}

func TestLoginFailureIsBusinessError(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	err := env.client.Login(context.Background(), Credentials{UserName: "admin", Password: "nope"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrBusiness)

	he, ok := AsHTTPError(err)
	require.True(t, ok)
	require.Equal(t, testbackend.CodeBadLogin, he.Code)
	require.Equal(t, "wrong user name or password", he.Message)
	require.False(t, env.client.Session().Authenticated())
}

func TestLoadProfileRequiresSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, err := env.client.LoadProfile(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestBearerPrefixNotDoubled(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	env.login(t, "admin")

	access := env.client.Session().AccessToken()
	require.NoError(t, env.client.Session().SetTokens(ctx, "Bearer "+access, ""))

	_, err := env.client.Get(ctx, "/echo", nil)
	require.NoError(t, err)

	echo := env.requests("/echo")
	require.Len(t, echo, 1)
	require.Equal(t, "Bearer "+access, echo[0].Authorization)
}

func TestParamsPromotedToBodyForMutations(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	env.login(t, "admin")

	_, err := env.client.Do(ctx, Request{Method: http.MethodPost, URL: "/echo", Params: map[string]string{"id": "7"}})
	require.NoError(t, err)
	_, err = env.client.Get(ctx, "/echo", map[string]string{"id": "8"})
	require.NoError(t, err)

	echo := env.requests("/echo")
	require.Len(t, echo, 2)
	require.Equal(t, `{"id":"7"}`, echo[0].Body)
	require.Equal(t, "", echo[0].Query)
	require.Equal(t, "application/json", echo[0].ContentType)
	require.Equal(t, "id=8", echo[1].Query)
	require.Equal(t, "", echo[1].Body)
}

func TestStringBodySentVerbatim(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.login(t, "admin")

	_, err := env.client.Post(context.Background(), "/echo", `{"raw":true}`)
	require.NoError(t, err)

	echo := env.requests("/echo")
	require.Len(t, echo, 1)
	require.Equal(t, `{"raw":true}`, echo[0].Body)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.login(t, "admin")

	resp, err := env.client.Get(context.Background(), "/echo", nil)
	require.NoError(t, err)
	_, err = uuid.Parse(resp.RequestID)
	require.NoError(t, err)

	ctx := WithRequestID(context.Background(), "trace-1")
	resp, err = env.client.Get(ctx, "/echo", nil)
	require.NoError(t, err)
	require.Equal(t, "trace-1", resp.RequestID)

	echo := env.requests("/echo")
	require.Len(t, echo, 2)
	require.Equal(t, "trace-1", echo[1].RequestID)
}

func TestFetchDecodesEnvelopeData(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.login(t, "admin")

	type echoData struct {
		Method string         `json:"method"`
		User   string         `json:"user"`
		Body   map[string]any `json:"body"`
	}
	got, err := Fetch[echoData](context.Background(), env.client, Request{
		Method: http.MethodPut,
		URL:    "/echo",
		Body:   map[string]any{"name": "menu"},
	})
	require.NoError(t, err)
	require.Equal(t, http.MethodPut, got.Method)
	require.Equal(t, "admin", got.User)
	require.Equal(t, "menu", got.Body["name"])
}

func TestNonEnvelopeBodyPassesThrough(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, err := env.client.Get(context.Background(), "/raw", nil)
	require.NoError(t, err)
	require.False(t, resp.HasEnvelope)
	require.Equal(t, "pong", string(resp.Body))

	var s string
	require.Error(t, resp.Decode(&s), "plain text is not JSON")
}

func TestBusinessErrorNotRetriedAndNotified(t *testing.T) {
	env := newTestEnv(t, envOptions{config: func(c *Config) {
		c.Retry.MaxRetries = 3
		c.Retry.Delay = time.Millisecond
	}})
	ctx := context.Background()
	env.login(t, "admin")

	_, err := env.client.Get(ctx, "/business-error", nil)
	require.ErrorIs(t, err, ErrBusiness)
	he, ok := AsHTTPError(err)
	require.True(t, ok)
	require.Equal(t, KindBusiness, he.Kind)
	require.Equal(t, testbackend.CodeDemo, he.Code)
	require.Equal(t, "record is locked", he.Message)

	require.Len(t, env.requests("/business-error"), 1)
	require.Equal(t, 1, env.notes.count(NotifyError))
	note, _ := env.notes.last(NotifyError)
	require.Equal(t, "record is locked", note.Message)

	_, err = env.client.Do(ctx, Request{URL: "/business-error", SuppressErrorNotification: true})
	require.ErrorIs(t, err, ErrBusiness)
	require.Equal(t, 1, env.notes.count(NotifyError))
	require.Equal(t, uint64(2), env.client.Metrics().Value(MetricBusinessError))
}

func TestSuccessNotificationOnlyForMutations(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	env.login(t, "admin")

	_, err := env.client.Get(ctx, "/echo", nil)
	require.NoError(t, err)
	require.Equal(t, 0, env.notes.count(NotifySuccess))

	_, err = env.client.Post(ctx, "/echo", map[string]int{"a": 1})
	require.NoError(t, err)
	require.Equal(t, 1, env.notes.count(NotifySuccess))
	note, _ := env.notes.last(NotifySuccess)
	require.Equal(t, "saved", note.Message)

	_, err = env.client.Do(ctx, Request{Method: http.MethodPost, URL: "/echo", Body: "{}", SuppressSuccessNotification: true})
	require.NoError(t, err)
	require.Equal(t, 1, env.notes.count(NotifySuccess))
}

func TestTransientFailureRetriedWithinBudget(t *testing.T) {
	env := newTestEnv(t, envOptions{config: func(c *Config) {
		c.Retry.MaxRetries = 2
		c.Retry.Delay = 5 * time.Millisecond
	}})
	ctx := context.Background()
	env.login(t, "admin")

	env.backend.FailNext("/echo", http.StatusServiceUnavailable, 2)
	resp, err := env.client.Get(ctx, "/echo", nil)
	require.NoError(t, err)
	require.Equal(t, 3, resp.Attempts)
	require.Equal(t, uint64(2), env.client.Metrics().Value(MetricRetry))

	env.backend.FailNext("/echo", http.StatusBadGateway, 3)
	resp, err = env.client.Get(ctx, "/echo", nil)
	require.ErrorIs(t, err, ErrTransient)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, 3, resp.Attempts)
}

func TestTransientFailureNotRetriedByDefault(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.login(t, "admin")

	env.backend.FailNext("/echo", http.StatusInternalServerError, 1)
	_, err := env.client.Get(context.Background(), "/echo", nil)
	require.ErrorIs(t, err, ErrTransient)
	require.Len(t, env.requests("/echo"), 1)
	require.Equal(t, 1, env.notes.count(NotifyError))
}

func TestNonTransientStatusIsHTTPError(t *testing.T) {
	env := newTestEnv(t, envOptions{config: func(c *Config) { c.Retry.MaxRetries = 2 }})
	env.login(t, "admin")

	_, err := env.client.Get(context.Background(), "/missing", nil)
	require.ErrorIs(t, err, ErrHTTPStatus)
	he, _ := AsHTTPError(err)
	require.Equal(t, http.StatusNotFound, he.Code)
	require.Equal(t, uint64(0), env.client.Metrics().Value(MetricRetry))
}

func TestAttemptTimeoutIsTransient(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	_, err := env.client.Do(context.Background(), Request{URL: "/slow", Timeout: 50 * time.Millisecond})
	require.ErrorIs(t, err, ErrTransient)
	he, _ := AsHTTPError(err)
	require.Equal(t, http.StatusRequestTimeout, he.Code)
}

func TestCallerCancellationIsNotRetried(t *testing.T) {
	env := newTestEnv(t, envOptions{config: func(c *Config) {
		c.Retry.MaxRetries = 3
		c.Retry.Delay = time.Millisecond
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := env.client.Get(ctx, "/slow", nil)
	require.ErrorIs(t, err, ErrNetwork)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, env.requests("/slow"), 1)
}

func TestNetworkError(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.Close()

	_, err := env.client.Get(context.Background(), "/echo", nil)
	require.ErrorIs(t, err, ErrNetwork)
	require.Equal(t, uint64(1), env.client.Metrics().Value(MetricNetworkError))
}

func TestEncryptedRequestAndResponse(t *testing.T) {
	crypto := sharedCrypto(t)
	env := newTestEnv(t, envOptions{
		backend: testbackend.Options{Crypto: crypto, EncryptResponses: true},
		config: func(c *Config) {
			c.Encryption.Enabled = true
			c.Encryption.PublicKey = crypto.PublicKeyBase64()
		},
	})
	ctx := context.Background()
	env.login(t, "admin")
	require.True(t, env.client.EncryptionEnabled())

	resp, err := env.client.Post(ctx, "/echo", map[string]string{"secret": "value"})
	require.NoError(t, err)
	require.True(t, resp.Decrypted)
	require.True(t, resp.HasEnvelope)
	require.Contains(t, string(resp.Data), `"secret":"value"`)

	login := env.requests("/auth/login")
	require.Len(t, login, 1)
	require.True(t, login[0].Encrypted)

	echo := env.requests("/echo")
	require.Len(t, echo, 1)
	require.True(t, echo[0].Encrypted)
	require.Equal(t, "text/plain", echo[0].ContentType)
	require.Equal(t, `{"secret":"value"}`, echo[0].Body)

	_, err = env.client.Do(ctx, Request{Method: http.MethodPost, URL: "/echo", Body: "{}", SkipEncryption: true})
	require.NoError(t, err)
	echo = env.requests("/echo")
	require.False(t, echo[1].Encrypted)
	require.Equal(t, "application/json", echo[1].ContentType)

	snap := env.client.MetricsSnapshot()
	require.Equal(t, uint64(2), snap.Counters[MetricEncrypt])
	require.GreaterOrEqual(t, snap.Counters[MetricDecryptSuccess], uint64(3))
}

func TestEncryptionToggledOffStillOpensResponses(t *testing.T) {
	crypto := sharedCrypto(t)
	env := newTestEnv(t, envOptions{
		backend: testbackend.Options{Crypto: crypto, EncryptResponses: true},
		config: func(c *Config) {
			c.Encryption.Enabled = true
			c.Encryption.PublicKey = crypto.PublicKeyBase64()
		},
	})
	env.login(t, "admin")

	require.NoError(t, env.client.SetEncryption(false, ""))
	require.False(t, env.client.EncryptionEnabled())

	resp, err := env.client.Post(context.Background(), "/echo", map[string]int{"n": 1})
	require.NoError(t, err)
	require.True(t, resp.Decrypted)

	echo := env.requests("/echo")
	require.Len(t, echo, 1)
	require.False(t, echo[0].Encrypted)
}

func TestSetEncryptionRequiresKey(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	require.ErrorIs(t, env.client.SetEncryption(true, ""), ErrEncryptionKey)
	require.Error(t, env.client.SetEncryption(true, "not-a-key"))
	require.NoError(t, env.client.SetEncryption(true, sharedCrypto(t).PublicKeyBase64()))
	require.True(t, env.client.EncryptionEnabled())
}

func newStaticServer(t *testing.T, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.HTTP.APIURL = srv.URL
	cfg.Encryption.Enabled = true
	cfg.Encryption.PublicKey = sharedCrypto(t).PublicKeyBase64()
	c, err := New().WithConfig(cfg).WithLogger(quietLogger()).Build()
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestMalformedEnvelopeFallsBackToPlain(t *testing.T) {
	c := newStaticServer(t, "QUFB.QUFB.QUFB")

	resp, err := c.Get(context.Background(), "/", nil)
	require.NoError(t, err)
	require.False(t, resp.Decrypted)
	require.Equal(t, "QUFB.QUFB.QUFB", string(resp.Body))
	require.Equal(t, uint64(1), c.Metrics().Value(MetricDecryptFallback))
}

func TestForeignKeyEnvelopeIsDecodeError(t *testing.T) {
	other := envelopetest.MustNewServer(2048)
	sealed, err := other.EncryptResponse(`{"code":200,"data":{"ok":true}}`)
	require.NoError(t, err)

	c := newStaticServer(t, sealed)
	_, err = c.Get(context.Background(), "/", nil)
	require.ErrorIs(t, err, ErrDecode)

	var de *envelope.DecryptionError
	require.True(t, errors.As(err, &de))
	require.Equal(t, uint64(1), c.Metrics().Value(MetricDecryptIntegrityFailure))
}

func TestResponseBodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", 64))
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.HTTP.APIURL = srv.URL
	cfg.HTTP.MaxResponseBytes = 16
	c, err := New().WithConfig(cfg).WithLogger(quietLogger()).Build()
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(context.Background(), "/", nil)
	require.ErrorIs(t, err, ErrDecode)
}

func TestCookieJarWithCredentials(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		if ck, err := r.Cookie("sid"); err == nil {
			seen = append(seen, ck.Value)
		}
		mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		_, _ = io.WriteString(w, `{"code":200}`)
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.HTTP.APIURL = srv.URL
	cfg.HTTP.WithCredentials = true
	c, err := New().WithConfig(cfg).WithLogger(quietLogger()).Build()
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 2; i++ {
		_, err := c.Get(context.Background(), "/", nil)
		require.NoError(t, err)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"abc"}, seen)
}

func TestLogoutClearsSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.login(t, "admin")

	require.NoError(t, env.client.Logout(context.Background()))
	require.False(t, env.client.Session().Authenticated())
	require.Len(t, env.requests("/auth/logout"), 1)
	require.Equal(t, uint64(1), env.client.Metrics().Value(MetricLogout))
}

func TestBannerDebounceWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newBanner(clock, 3*time.Second)

	require.True(t, b.trigger())
	require.False(t, b.trigger())
	clock.Advance(2 * time.Second)
	require.False(t, b.trigger())
	clock.Advance(time.Second)
	require.True(t, b.trigger())
}

func TestBuilderSingleUseAndValidation(t *testing.T) {
	_, err := New().Build()
	require.ErrorIs(t, err, ErrNoBaseURL)

	b := New().WithBaseURL("http://127.0.0.1:1", "/api").WithLogger(quietLogger())
	c, err := b.Build()
	require.NoError(t, err)
	defer c.Close()
	require.Equal(t, "http://127.0.0.1:1/api", c.BaseURL())

	_, err = b.Build()
	require.ErrorIs(t, err, ErrBuilderUsed)
}

func TestHTTPErrorFormatting(t *testing.T) {
	err := &HTTPError{Code: 1002, Kind: KindBusiness, Message: "record is locked"}
	require.Equal(t, "authkit: business error 1002: record is locked", err.Error())
	require.ErrorIs(t, err, ErrBusiness)
	require.NotErrorIs(t, err, ErrUnauthorized)

	wrapped := &HTTPError{Kind: KindNetwork, Err: io.ErrUnexpectedEOF}
	require.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)
	require.Equal(t, "authkit: network error: unexpected EOF", wrapped.Error())
}

func TestTokenVerifierGatesExpiryMetadata(t *testing.T) {
	secret := []byte("shared-signing-secret")
	verifier := func(key []byte) *jwt.Manager {
		m, err := jwt.NewManager(jwt.Config{Method: jwt.MethodHS256, Secret: key, Issuer: testbackend.Issuer})
		require.NoError(t, err)
		return m
	}

	trusted := newTestEnv(t, envOptions{
		backend: testbackend.Options{Secret: secret, AccessTTL: time.Hour},
		builder: func(b *Builder) { b.WithTokenVerifier(verifier(secret)) },
	})
	trusted.login(t, "admin")
	snap := trusted.client.Session().Snapshot()
	require.NotZero(t, snap.ExpiresAt)
	require.Equal(t, int64(time.Hour/time.Second), snap.ExpiresAt-snap.IssuedAt)

	untrusted := newTestEnv(t, envOptions{
		backend: testbackend.Options{Secret: secret},
		builder: func(b *Builder) { b.WithTokenVerifier(verifier([]byte("some-other-secret"))) },
	})
	untrusted.login(t, "admin")
	snap = untrusted.client.Session().Snapshot()
	require.True(t, untrusted.client.Authenticated())
	require.Zero(t, snap.ExpiresAt)
}
