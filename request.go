package authkit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	HeaderEncrypted = "X-Encrypted"
	HeaderRequestID = "X-Request-Id"

	contentTypeJSON  = "application/json"
	contentTypePlain = "text/plain"
)

// Request is one call's intent. The zero value is a GET of the base URL.
type Request struct {
	Method string
	// URL is relative to the configured base URL unless it is absolute.
	URL string
	// Params are sent in the query string. For POST, PUT, PATCH and DELETE
	// without a Body they become the JSON body instead.
	Params map[string]string
	// Body is sent verbatim when it is a string or []byte and JSON encoded
	// otherwise.
	Body   any
	Header http.Header
	// Timeout overrides HTTP.Timeout for each attempt of this call.
	Timeout time.Duration

	SuppressErrorNotification   bool
	SuppressSuccessNotification bool
	// SkipEncryption sends this body in the clear while encryption is on.
	SkipEncryption bool
	// IsRetry marks the replay that follows a refresh. An unauthorized
	// answer to it is final.
	IsRetry bool

	// noRecovery returns unauthorized answers as-is, without refresh or
	// forced logout.
	noRecovery bool
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

func (r Request) mutating() bool {
	switch r.method() {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

type preparedBody struct {
	data        []byte
	contentType string
	encrypted   bool
	query       url.Values
}

// prepare promotes params, serializes the body and encrypts it when a
// codec is active.
func (c *Client) prepare(req Request) (preparedBody, error) {
	var out preparedBody

	body := req.Body
	params := req.Params
	if body == nil && len(params) > 0 && req.mutating() {
		body = params
		params = nil
	}
	if len(params) > 0 {
		out.query = make(url.Values, len(params))
		for k, v := range params {
			out.query.Set(k, v)
		}
	}

	if body == nil {
		return out, nil
	}

	switch b := body.(type) {
	case string:
		out.data = []byte(b)
	case []byte:
		out.data = b
	case json.RawMessage:
		out.data = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return out, &HTTPError{Kind: KindEncrypt, Message: "encode request body", Err: fmt.Errorf("encode body: %w", err)}
		}
		out.data = data
	}
	out.contentType = contentTypeJSON

	codec := c.activeCodec()
	if codec == nil || req.SkipEncryption {
		return out, nil
	}

	sealed, err := codec.EncryptRequest(string(out.data))
	if err != nil {
		c.metrics.Inc(MetricEncryptFailure)
		return out, &HTTPError{Kind: KindEncrypt, Message: "encrypt request body", Err: err}
	}
	c.metrics.Inc(MetricEncrypt)
	out.data = []byte(sealed)
	out.contentType = contentTypePlain
	out.encrypted = true
	return out, nil
}

func (c *Client) resolveURL(path string, query url.Values) (string, error) {
	target := path
	if !isAbsoluteURL(path) {
		target = joinURL(c.baseURL, path)
	}
	if len(query) == 0 {
		return target, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
