package sessionguard

import (
	"io"

	"github.com/MrEthical07/sessionguard/internal/audit"
)

// AuditEvent is a security-relevant engine transition delivered to an AuditSink.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink exposes audit events on a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON audit event per line.
type JSONWriterSink = audit.JSONWriterSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}
