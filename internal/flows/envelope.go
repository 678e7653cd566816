package flows

import (
	"bytes"
	"encoding/json"
)

// Codes holds the business status sentinels.
type Codes struct {
	Success      int
	Unauthorized int
}

// Envelope is the business response wrapper {code, msg, message, data}.
type Envelope struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// DisplayMessage prefers msg over message.
func (e Envelope) DisplayMessage() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Message
}

// DecodeEnvelope parses body as a business envelope. ok is false when body is
// not a JSON object carrying a numeric "code".
func DecodeEnvelope(body []byte) (env Envelope, ok bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, false
	}

	var probe struct {
		Code *json.Number `json:"code"`
		Envelope
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&probe); err != nil || probe.Code == nil {
		return Envelope{}, false
	}
	code, err := probe.Code.Int64()
	if err != nil {
		return Envelope{}, false
	}

	env = probe.Envelope
	env.Code = int(code)
	return env, true
}
