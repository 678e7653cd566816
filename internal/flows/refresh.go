package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureTransport
	RefreshFailureStatus
	RefreshFailureBusiness
	RefreshFailureDecode
	RefreshFailureMissingToken
)

func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailureNone:
		return "none"
	case RefreshFailureTransport:
		return "transport"
	case RefreshFailureStatus:
		return "status"
	case RefreshFailureBusiness:
		return "business"
	case RefreshFailureDecode:
		return "decode"
	case RefreshFailureMissingToken:
		return "missing_token"
	default:
		return "unknown"
	}
}

// Reply is a raw HTTP reply.
type Reply struct {
	Status int
	Body   []byte
}

// PostFunc issues a POST that bypasses unauthorized handling. params are sent
// as query parameters.
type PostFunc func(ctx context.Context, path string, params map[string]string, body any) (Reply, error)

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Post  PostFunc
	Path  string
	Param string
	Codes Codes
	// Decode turns a possibly encrypted body into plain bytes.
	Decode func(ctx context.Context, body []byte) []byte
}

// RefreshResult carries either the new token pair or failure metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	Code    int
	// Message is the server's display message for business failures.
	Message      string
	AccessToken  string
	RefreshToken string
}

type tokenData struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RunRefresh exchanges refreshToken for a new token pair.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	reply, err := deps.Post(ctx, deps.Path, map[string]string{deps.Param: refreshToken}, nil)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureTransport, Err: err}
	}

	return decodeTokenReply(ctx, reply, deps.Codes, deps.Decode)
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	Post   PostFunc
	Path   string
	Codes  Codes
	Decode func(ctx context.Context, body []byte) []byte
}

// RunLogin posts credentials and returns the issued token pair. Login
// replies use the same {accessToken, refreshToken} data shape as refresh.
func RunLogin(ctx context.Context, credentials any, deps LoginDeps) RefreshResult {
	reply, err := deps.Post(ctx, deps.Path, nil, credentials)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureTransport, Err: err}
	}

	return decodeTokenReply(ctx, reply, deps.Codes, deps.Decode)
}

func decodeTokenReply(
	ctx context.Context,
	reply Reply,
	codes Codes,
	decode func(context.Context, []byte) []byte,
) RefreshResult {
	body := reply.Body
	if decode != nil {
		body = decode(ctx, body)
	}

	c := Classify(reply.Status, body, codes)
	fail := func(kind RefreshFailureKind, err error) RefreshResult {
		return RefreshResult{Failure: kind, Err: err, Code: c.Code, Message: c.Message}
	}

	switch c.Outcome {
	case OutcomeSuccess:
	case OutcomeBusiness, OutcomeUnauthorized:
		if c.HasEnvelope {
			return fail(RefreshFailureBusiness, fmt.Errorf("business code %d: %s", c.Code, c.Message))
		}
		return fail(RefreshFailureStatus, fmt.Errorf("http status %d", reply.Status))
	default:
		return fail(RefreshFailureStatus, fmt.Errorf("http status %d", reply.Status))
	}

	if !c.HasEnvelope {
		return fail(RefreshFailureDecode, errors.New("response is not a business envelope"))
	}

	var tokens tokenData
	if err := json.Unmarshal(c.Envelope.Data, &tokens); err != nil {
		return fail(RefreshFailureDecode, fmt.Errorf("decode token data: %w", err))
	}
	if tokens.AccessToken == "" {
		return fail(RefreshFailureMissingToken, errors.New("response carries no access token"))
	}
	return RefreshResult{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Code:         c.Code,
		Message:      c.Message,
	}
}
