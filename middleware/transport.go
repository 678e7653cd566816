package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/junoyi/authkit/jwt"
)

// TokenSource supplies the current access token. *session.Manager
// satisfies it.
type TokenSource interface {
	AccessToken() string
}

// Refresher returns a fresh access token after usedToken was rejected.
// *refresh.Coordinator satisfies it.
type Refresher interface {
	Token(ctx context.Context, usedToken string) (string, error)
}

// Transport attaches "Authorization: Bearer <token>" to outgoing requests
// that do not already carry an Authorization header.
type Transport struct {
	Base   http.RoundTripper
	Tokens TokenSource
	// Refresher, when set, is asked for a new token after a 401 and the
	// request is sent once more with it.
	Refresher Refresher
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(base http.RoundTripper, tokens TokenSource, refresher Refresher) *Transport {
	return &Transport{Base: base, Tokens: tokens, Refresher: refresher}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Tokens == nil {
		return nil, errors.New("middleware: transport has no token source")
	}
	if req.Header.Get("Authorization") != "" {
		return t.base().RoundTrip(req)
	}

	token := t.Tokens.AccessToken()
	res, err := t.base().RoundTrip(withBearer(req, token))
	if err != nil || res.StatusCode != http.StatusUnauthorized || t.Refresher == nil || token == "" {
		return res, err
	}

	replay, ok := rewind(req)
	if !ok {
		return res, nil
	}

	fresh, rerr := t.Refresher.Token(req.Context(), token)
	if rerr != nil || fresh == "" {
		return res, nil
	}
	_, _ = io.Copy(io.Discard, res.Body)
	res.Body.Close()

	return t.base().RoundTrip(withBearer(replay, fresh))
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// withBearer clones req; RoundTrippers must not modify the caller's request.
func withBearer(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	if v := jwt.Bearer(token); v != "" {
		out.Header.Set("Authorization", v)
	}
	return out
}

// rewind returns a copy of req with a fresh body, or false when the body
// cannot be read again.
func rewind(req *http.Request) (*http.Request, bool) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return out, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	out.Body = body
	return out, true
}
