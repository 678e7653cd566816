package authkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

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

// Client is the request pipeline. It attaches the session's bearer token,
// encrypts bodies, opens encrypted responses, retries transient failures,
// and recovers from unauthorized answers through a single-flight refresh.
//
// A Client is safe for concurrent use. Build one with New().Build().
type Client struct {
	cfg     Config
	baseURL string
	codes   flows.Codes

	http  *http.Client
	log   logrus.FieldLogger
	clock clockwork.Clock

	session *session.Manager
	checker *permission.Checker
	coord   *refresh.Coordinator
	crypto  atomic.Pointer[cryptoState]

	metrics  *Metrics
	audit    *audit.Dispatcher
	notifier Notifier
	banner   *banner

	logoutMu    sync.Mutex
	logoutTimer clockwork.Timer
}

// cryptoState keeps the codec even while encryption is off, so envelopes
// that still arrive after a toggle can be opened.
type cryptoState struct {
	codec   *envelope.Codec
	enabled bool
}

// Do runs req through the pipeline. On failure the error is an *HTTPError
// and the returned Response, when non-nil, is the last one received.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	start := c.clock.Now()
	c.metrics.Inc(MetricRequest)

	resp, err := c.dispatch(ctx, req, c.session.AccessToken())
	c.metrics.Observe(MetricRequestLatency, c.clock.Since(start))

	if err != nil {
		c.metrics.Inc(MetricRequestFailure)
		c.reportFailure(req, resp, err)
		return resp, err
	}

	c.metrics.Inc(MetricRequestSuccess)
	if req.mutating() && !req.SuppressSuccessNotification && resp.HasEnvelope && resp.Message != "" {
		c.notifier.Notify(Notification{
			Level:     NotifySuccess,
			Code:      resp.Code,
			Message:   resp.Message,
			RequestID: resp.RequestID,
			Method:    req.method(),
			Path:      req.URL,
		})
	}
	return resp, nil
}

func (c *Client) dispatch(ctx context.Context, req Request, token string) (*Response, error) {
	body, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.exchange(ctx, req, body, token)
	if err != nil {
		return resp, err
	}

	he := resp.asError()
	if he == nil {
		return resp, nil
	}
	if he.Kind != KindUnauthorized {
		return resp, he
	}

	c.metrics.Inc(MetricUnauthorized)
	if req.noRecovery {
		return resp, he
	}
	if req.IsRetry {
		c.expireSession(req, resp.RequestID)
		return resp, he
	}

	var (
		retried  *Response
		retryErr error
		ran      bool
	)
	err = c.coord.HandleUnauthorized(ctx, token, func(ctx context.Context, fresh string) error {
		next := req
		next.IsRetry = true
		ran = true
		retried, retryErr = c.dispatch(ctx, next, fresh)
		return retryErr
	})
	if ran {
		return retried, retryErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return resp, &HTTPError{Kind: KindNetwork, Message: ctxErr.Error(), Err: ctxErr}
	}

	if errors.Is(err, refresh.ErrRefreshUnavailable) {
		c.metrics.Inc(MetricRefreshUnavailable)
	}
	c.expireSession(req, resp.RequestID)
	he.Err = err
	return resp, he
}

func (c *Client) roundTrip(ctx context.Context, req Request, body preparedBody, token string) (*Response, error) {
	requestID := requestIDFor(ctx)
	status, header, raw, err := c.send(ctx, req, body, token, requestID)
	if err != nil {
		return nil, err
	}

	plain, decrypted, err := c.openBody(ctx, raw, req.URL, requestID)
	if err != nil {
		return nil, err
	}
	return newResponse(status, header, plain, requestID, decrypted, c.codes), nil
}

// send performs one HTTP exchange and reads the bounded body.
func (c *Client) send(ctx context.Context, req Request, body preparedBody, token, requestID string) (int, http.Header, []byte, error) {
	target, err := c.resolveURL(req.URL, body.query)
	if err != nil {
		return 0, nil, nil, &HTTPError{Kind: KindNetwork, Message: "invalid request url", Err: err}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.HTTP.Timeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rdr io.Reader
	if body.data != nil {
		rdr = bytes.NewReader(body.data)
	}
	hreq, err := http.NewRequestWithContext(actx, req.method(), target, rdr)
	if err != nil {
		return 0, nil, nil, &HTTPError{Kind: KindNetwork, Message: "build request", Err: err}
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if body.contentType != "" {
		hreq.Header.Set("Content-Type", body.contentType)
	}
	if body.encrypted {
		hreq.Header.Set(HeaderEncrypted, "true")
	}
	if auth := jwt.Bearer(token); auth != "" {
		hreq.Header.Set("Authorization", auth)
	}
	hreq.Header.Set(HeaderRequestID, requestID)
	if hreq.Header.Get("User-Agent") == "" && c.cfg.HTTP.UserAgent != "" {
		hreq.Header.Set("User-Agent", c.cfg.HTTP.UserAgent)
	}

	res, err := c.http.Do(hreq)
	if err != nil {
		c.metrics.Inc(MetricNetworkError)
		return 0, nil, nil, transportError(ctx, err)
	}
	defer res.Body.Close()

	limit := c.cfg.HTTP.MaxResponseBytes
	raw, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		c.metrics.Inc(MetricNetworkError)
		return 0, nil, nil, transportError(ctx, err)
	}
	if int64(len(raw)) > limit {
		return 0, nil, nil, &HTTPError{
			Code:    res.StatusCode,
			Kind:    KindDecode,
			Message: "response body exceeds " + strconv.FormatInt(limit, 10) + " bytes",
		}
	}
	return res.StatusCode, res.Header, raw, nil
}

// openBody decrypts envelope-shaped bodies. Bodies that are not envelopes,
// or fail to split as one, are returned unchanged. Integrity failures are
// errors: such a body is neither decrypted nor trusted as plain.
func (c *Client) openBody(ctx context.Context, raw []byte, path, requestID string) ([]byte, bool, error) {
	text := strings.TrimSpace(string(raw))
	if !envelope.LooksLikeEnvelope(text) {
		return raw, false, nil
	}

	st := c.crypto.Load()
	if st == nil || st.codec == nil {
		c.metrics.Inc(MetricDecryptFallback)
		c.log.WithField("request_id", requestID).Debug("authkit: envelope-shaped response without a key, treating as plain")
		return raw, false, nil
	}

	plain, err := st.codec.DecryptResponse(text)
	if err == nil {
		c.metrics.Inc(MetricDecryptSuccess)
		return []byte(plain), true, nil
	}

	if errors.Is(err, envelope.ErrMalformedEnvelope) {
		c.metrics.Inc(MetricDecryptFallback)
		c.log.WithField("request_id", requestID).WithError(err).Debug("authkit: malformed envelope, treating as plain")
		return raw, false, nil
	}

	c.metrics.Inc(MetricDecryptIntegrityFailure)
	c.log.WithFields(logrus.Fields{"request_id": requestID, "path": path}).WithError(err).Warn("authkit: response failed integrity check")
	c.emitAudit(ctx, audit.Event{
		EventType: audit.EventDecryptFailure,
		RequestID: requestID,
		Path:      path,
		Error:     err.Error(),
	})
	return nil, false, &HTTPError{Kind: KindDecode, Message: "response could not be decrypted", Err: err}
}

// decodeLenient is the flows decode hook: any failure yields the raw body.
func (c *Client) decodeLenient(ctx context.Context, body []byte) []byte {
	plain, _, err := c.openBody(ctx, body, "", "")
	if err != nil {
		return body
	}
	return plain
}

// rawPost sends one POST that bypasses refresh recovery and retry. params
// stay in the query string.
func (c *Client) rawPost(ctx context.Context, path string, params map[string]string, body any) (flows.Reply, error) {
	req := Request{Method: http.MethodPost, URL: path, Body: body}
	prepared, err := c.prepare(req)
	if err != nil {
		return flows.Reply{}, err
	}
	if len(params) > 0 {
		prepared.query = make(url.Values, len(params))
		for k, v := range params {
			prepared.query.Set(k, v)
		}
	}

	status, _, raw, err := c.send(ctx, req, prepared, "", requestIDFor(ctx))
	if err != nil {
		return flows.Reply{}, err
	}
	return flows.Reply{Status: status, Body: raw}, nil
}

func (c *Client) refreshTokens(ctx context.Context, refreshToken string) (refresh.TokenPair, error) {
	start := c.clock.Now()
	res := flows.RunRefresh(ctx, refreshToken, flows.RefreshDeps{
		Post:   c.rawPost,
		Path:   c.cfg.Refresh.Path,
		Param:  c.cfg.Refresh.Param,
		Codes:  c.codes,
		Decode: c.decodeLenient,
	})
	c.metrics.Observe(MetricRefreshLatency, c.clock.Since(start))

	if res.Failure != flows.RefreshFailureNone {
		c.log.WithFields(logrus.Fields{
			"failure": res.Failure.String(),
			"code":    res.Code,
		}).WithError(res.Err).Warn("authkit: token refresh failed")
		c.emitAudit(ctx, audit.Event{
			EventType: audit.EventRefreshFailure,
			UserID:    c.userID(),
			Path:      c.cfg.Refresh.Path,
			Error:     res.Err.Error(),
		})
		return refresh.TokenPair{}, fmt.Errorf("%s: %w", res.Failure, res.Err)
	}

	c.emitAudit(ctx, audit.Event{
		EventType: audit.EventRefreshSuccess,
		UserID:    c.userID(),
		Path:      c.cfg.Refresh.Path,
		Success:   true,
	})
	return refresh.TokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}, nil
}

// expireSession shows the unauthorized banner and schedules the forced
// logout, once per debounce window.
func (c *Client) expireSession(req Request, requestID string) {
	if !c.banner.trigger() {
		c.metrics.Inc(MetricBannerSuppressed)
		return
	}

	c.metrics.Inc(MetricBannerShown)
	c.notifier.Notify(Notification{
		Level:     NotifyUnauthorized,
		Code:      c.cfg.Status.Unauthorized,
		Message:   "login expired, please sign in again",
		RequestID: requestID,
		Method:    req.method(),
		Path:      req.URL,
	})

	c.logoutMu.Lock()
	defer c.logoutMu.Unlock()
	if c.logoutTimer != nil {
		c.logoutTimer.Stop()
	}
	c.logoutTimer = c.clock.AfterFunc(c.cfg.Refresh.LogoutDelay, c.forceLogout)
}

func (c *Client) cancelLogout() {
	c.logoutMu.Lock()
	defer c.logoutMu.Unlock()
	if c.logoutTimer != nil {
		c.logoutTimer.Stop()
		c.logoutTimer = nil
	}
}

func (c *Client) forceLogout() {
	ctx := context.Background()
	userID := c.userID()

	c.logoutMu.Lock()
	c.logoutTimer = nil
	c.logoutMu.Unlock()

	err := c.session.Clear(ctx)
	if err != nil {
		c.log.WithError(err).Warn("authkit: clear session on forced logout")
	}
	c.metrics.Inc(MetricForcedLogout)
	c.log.WithField("user_id", userID).Warn("authkit: session expired, signed out")

	ev := audit.Event{EventType: audit.EventForcedLogout, UserID: userID, Success: err == nil}
	if err != nil {
		ev.Error = err.Error()
	}
	c.emitAudit(ctx, ev)
}

func (c *Client) reportFailure(req Request, resp *Response, err error) {
	he, ok := AsHTTPError(err)
	if !ok {
		return
	}

	switch he.Kind {
	case KindBusiness:
		c.metrics.Inc(MetricBusinessError)
	case KindUnauthorized:
		// the banner is the only notification for these
		return
	}

	fields := logrus.Fields{"method": req.method(), "path": req.URL, "code": he.Code, "kind": he.Kind.String()}
	requestID := ""
	if resp != nil {
		requestID = resp.RequestID
		fields["request_id"] = requestID
	}
	c.log.WithFields(fields).Debug("authkit: request failed")

	if req.SuppressErrorNotification {
		return
	}
	c.notifier.Notify(Notification{
		Level:     NotifyError,
		Code:      he.Code,
		Message:   he.Message,
		RequestID: requestID,
		Method:    req.method(),
		Path:      req.URL,
	})
}

func (c *Client) emitAudit(ctx context.Context, ev audit.Event) {
	if c.audit == nil {
		return
	}
	c.audit.Emit(ctx, ev)
}

func (c *Client) userID() string {
	snap := c.session.Snapshot()
	if snap == nil || snap.UserID == 0 {
		return ""
	}
	return strconv.FormatInt(snap.UserID, 10)
}

// SetEncryption switches the envelope on or off. An empty publicKey keeps
// the current key.
func (c *Client) SetEncryption(enabled bool, publicKey string) error {
	prev := c.crypto.Load()
	next := &cryptoState{enabled: enabled}
	if prev != nil {
		next.codec = prev.codec
	}

	if strings.TrimSpace(publicKey) != "" {
		codec, err := envelope.NewCodecFromString(publicKey)
		if err != nil {
			return err
		}
		next.codec = codec
	}
	if enabled && next.codec == nil {
		return ErrEncryptionKey
	}

	c.crypto.Store(next)
	c.log.WithField("enabled", enabled).Info("authkit: encryption settings updated")
	return nil
}

// EncryptionEnabled reports whether outgoing bodies are currently sealed.
func (c *Client) EncryptionEnabled() bool {
	st := c.crypto.Load()
	return st != nil && st.enabled && st.codec != nil
}

func (c *Client) activeCodec() *envelope.Codec {
	st := c.crypto.Load()
	if st == nil || !st.enabled {
		return nil
	}
	return st.codec
}

// Session returns the session the client reads tokens from.
func (c *Client) Session() *session.Manager { return c.session }

// Coordinator returns the refresh coordinator.
func (c *Client) Coordinator() *refresh.Coordinator { return c.coord }

// Config returns a copy of the client configuration.
func (c *Client) Config() Config { return cloneConfig(c.cfg) }

// BaseURL is the API URL joined with the API prefix.
func (c *Client) BaseURL() string { return c.baseURL }

// Metrics returns the live counters.
func (c *Client) Metrics() *Metrics { return c.metrics }

// MetricsSnapshot copies the counters and histograms at one point in time.
func (c *Client) MetricsSnapshot() MetricsSnapshot { return c.metrics.Snapshot() }

// AuditDropped counts audit events lost to a full buffer.
func (c *Client) AuditDropped() uint64 { return c.audit.Dropped() }

// Close stops the pending forced logout and flushes the audit dispatcher.
func (c *Client) Close() {
	c.cancelLogout()
	c.audit.Close()
}

// tokenStore exposes the session manager to the refresh coordinator.
type tokenStore struct {
	m *session.Manager
}

func (s tokenStore) AccessToken() string  { return s.m.AccessToken() }
func (s tokenStore) RefreshToken() string { return s.m.RefreshToken() }

func (s tokenStore) SetTokens(ctx context.Context, pair refresh.TokenPair) error {
	return s.m.SetTokens(ctx, pair.AccessToken, pair.RefreshToken)
}
