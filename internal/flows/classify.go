package flows

import "net/http"

// Outcome is the pipeline's reading of one response.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeUnauthorized
	OutcomeBusiness
	OutcomeTransient
	OutcomeHTTP
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeBusiness:
		return "business"
	case OutcomeTransient:
		return "transient"
	case OutcomeHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// Classified is a response reduced to what the pipeline branches on.
type Classified struct {
	Outcome Outcome
	// Code is the business code when an envelope was present, otherwise the
	// HTTP status.
	Code     int
	Message  string
	Envelope Envelope
	// HasEnvelope is false for bodies that are not a business envelope. Such
	// 2xx responses are passed through as successes.
	HasEnvelope bool
}

// IsTransientStatus reports whether status is retried: request timeout and
// the 500/502/503/504 family.
func IsTransientStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Classify inspects status and the (already decrypted) body.
func Classify(status int, body []byte, codes Codes) Classified {
	env, hasEnv := DecodeEnvelope(body)
	c := Classified{Code: status, Envelope: env, HasEnvelope: hasEnv}
	if hasEnv {
		c.Message = env.DisplayMessage()
	}

	switch {
	case status == http.StatusUnauthorized:
		c.Outcome = OutcomeUnauthorized
	case IsTransientStatus(status):
		c.Outcome = OutcomeTransient
	case status < 200 || status > 299:
		c.Outcome = OutcomeHTTP
	case !hasEnv:
		c.Outcome = OutcomeSuccess
	case env.Code == codes.Success:
		c.Outcome = OutcomeSuccess
		c.Code = env.Code
	case env.Code == codes.Unauthorized:
		c.Outcome = OutcomeUnauthorized
		c.Code = env.Code
	default:
		c.Outcome = OutcomeBusiness
		c.Code = env.Code
	}

	if c.Message == "" && c.Outcome != OutcomeSuccess {
		c.Message = http.StatusText(status)
	}
	return c
}
