package authkit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// exchange performs the transport step for one logical call, retrying
// transient failures with a constant delay up to Retry.MaxRetries extra
// attempts. The returned Response is the last one received; for transient
// failures that exhausted the budget it accompanies the error.
func (c *Client) exchange(ctx context.Context, req Request, body preparedBody, token string) (*Response, error) {
	var (
		last     *Response
		attempts int
	)

	op := func() error {
		if attempts > 0 {
			c.metrics.Inc(MetricRetry)
		}
		attempts++

		resp, err := c.roundTrip(ctx, req, body, token)
		if err != nil {
			var he *HTTPError
			if errors.As(err, &he) && he.Kind == KindTransient {
				c.metrics.Inc(MetricTransientError)
				return err
			}
			return backoff.Permanent(err)
		}
		resp.Attempts = attempts
		last = resp
		if he := resp.asError(); he != nil && he.Kind == KindTransient {
			c.metrics.Inc(MetricTransientError)
			return he
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.Retry.Delay), uint64(c.cfg.Retry.MaxRetries)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		c.log.WithField("path", req.URL).WithError(err).Debugf("authkit: transient failure, retrying in %s", wait)
	}

	err := backoff.RetryNotifyWithTimer(op, policy, notify, &clockTimer{clock: c.clock})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !isHTTPError(err) {
			return last, &HTTPError{Kind: KindNetwork, Message: ctxErr.Error(), Err: ctxErr}
		}
		return last, err
	}
	return last, nil
}

// transportError maps a failed http.Client.Do. Per-attempt timeouts are
// transient; cancellation of the caller's context is not.
func transportError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return &HTTPError{Kind: KindNetwork, Message: parent.Err().Error(), Err: parent.Err()}
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &HTTPError{Code: http.StatusRequestTimeout, Kind: KindTransient, Message: "request timed out", Err: err}
	}
	return &HTTPError{Kind: KindNetwork, Message: "network error", Err: err}
}

func isHTTPError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}

// clockTimer runs backoff waits on the client's clock.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}
