package rideauth

import (
	"io"

	"github.com/MrEthical07/rideauth/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant record emitted by the engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers events in a channel, mostly for tests.
type ChannelSink = audit.ChannelSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) AuditSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapSink logs successful events at info level and failures at warn.
func NewZapSink(log *zap.Logger) AuditSink {
	return audit.NewZapSink(log)
}
