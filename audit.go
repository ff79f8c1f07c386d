package agencyauth

import (
	"io"

	internalaudit "github.com/MrEthical07/agencyauth/internal/audit"
	"github.com/MrEthical07/agencyauth/store"
	"go.uber.org/zap"
)

// AuditEvent is one audit record as handed to sinks.
type AuditEvent = store.AuditEntry

// AuditSink receives audit events. Implementations must be safe for
// concurrent use.
type AuditSink = internalaudit.Sink

// NoOpSink discards every event.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers events on a channel, mostly for tests.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// MultiSink fans an event out to every member in order.
type MultiSink = internalaudit.MultiSink

// NewChannelSink returns a sink with the given channel buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewStoreSink persists events to log and reports write failures through logger.
func NewStoreSink(log store.AuditLog, logger *zap.Logger) AuditSink {
	return internalaudit.NewStoreSink(log, logger)
}
