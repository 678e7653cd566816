package authkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/junoyi/authkit/internal/flows"
)

// Response is a completed call. Body is always plaintext: encrypted
// envelopes have been opened before the Response is built.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string

	// Code, Message and Data come from the business envelope when the body
	// was one (HasEnvelope).
	Code        int
	Message     string
	Data        json.RawMessage
	HasEnvelope bool

	// Decrypted reports that Body arrived as an envelope.
	Decrypted bool
	// Attempts counts transport attempts, including transient retries.
	Attempts int

	outcome flows.Outcome
}

func newResponse(status int, header http.Header, body []byte, requestID string, decrypted bool, codes flows.Codes) *Response {
	cls := flows.Classify(status, body, codes)
	return &Response{
		StatusCode:  status,
		Header:      header,
		Body:        body,
		RequestID:   requestID,
		Code:        cls.Code,
		Message:     cls.Message,
		Data:        cls.Envelope.Data,
		HasEnvelope: cls.HasEnvelope,
		Decrypted:   decrypted,
		outcome:     cls.Outcome,
	}
}

// Decode unmarshals the envelope data, or the whole body for non-envelope
// responses, into v.
func (r *Response) Decode(v any) error {
	payload := []byte(r.Data)
	if !r.HasEnvelope {
		payload = r.Body
	}
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &HTTPError{Code: r.Code, Kind: KindDecode, Message: "decode response data", Err: fmt.Errorf("%w: %w", ErrDecode, err)}
	}
	return nil
}

func (r *Response) asError() *HTTPError {
	switch r.outcome {
	case flows.OutcomeSuccess:
		return nil
	case flows.OutcomeUnauthorized:
		return &HTTPError{Code: r.Code, Message: r.Message, Kind: KindUnauthorized}
	case flows.OutcomeBusiness:
		return &HTTPError{Code: r.Code, Message: r.Message, Kind: KindBusiness}
	case flows.OutcomeTransient:
		return &HTTPError{Code: r.StatusCode, Message: r.Message, Kind: KindTransient}
	default:
		return &HTTPError{Code: r.Code, Message: r.Message, Kind: KindHTTP}
	}
}

// Fetch runs req and decodes the response data into a T.
func Fetch[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T
	resp, err := c.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// Get sends a GET with params in the query string.
func (c *Client) Get(ctx context.Context, path string, params map[string]string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: path, Params: params})
}

// Post sends body as JSON, or as an envelope when encryption is on.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, URL: path, Body: body})
}

// Put is Post with the PUT method.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, URL: path, Body: body})
}

// Delete sends a DELETE. Params become the JSON body, as for every
// mutating method without an explicit body.
func (c *Client) Delete(ctx context.Context, path string, params map[string]string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, URL: path, Params: params})
}
