package tenantauth

import (
	"io"
	"log/slog"

	"github.com/MrEthical07/tenantauth/internal/audit"
)

// AuditEvent is one audit or lifecycle record emitted by the engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
// Emit must not block for long; a slow sink causes drops when
// AuditConfig.DropIfFull is set.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	SlogSink       = audit.SlogSink
	MultiSink      = audit.MultiSink
)

func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

func NewSlogSink(l *slog.Logger) *SlogSink { return audit.NewSlogSink(l) }
