package authkit

import (
	"io"

	"github.com/junoyi/authkit/internal/audit"
)

// Audit types are shared with the internal dispatcher.
type (
	AuditEvent     = audit.Event
	AuditSink      = audit.Sink
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
)

// Audit event types.
const (
	AuditLogin          = audit.EventLogin
	AuditLogout         = audit.EventLogout
	AuditRefreshSuccess = audit.EventRefreshSuccess
	AuditRefreshFailure = audit.EventRefreshFailure
	AuditForcedLogout   = audit.EventForcedLogout
	AuditDecryptFailure = audit.EventDecryptFailure
)

// NewChannelSink returns a sink that buffers up to buffer events.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}
