package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"salesops-relay/internal/telemetry"
	"salesops-relay/internal/telemetry/domain"
)

// loggerName is the instrumentation scope of relay event log records.
const loggerName = "salesops-relay.telemetry"

// recordEmitter is the part of otellog.Logger the emitter uses.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(loggerName)}
}

// NewEventEmitterWithLogger returns an EventEmitter writing to logger.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.Event) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event to an OTel log record and emits it.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetEventName(event.EventType)
	rec.SetSeverity(severity(event))
	rec.SetBody(otellog.StringValue(event.EventType))
	rec.AddAttributes(
		otellog.String("event_type", event.EventType),
		otellog.String("source", event.Source),
	)
	if event.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", event.SessionID))
	}
	if event.TaskID != "" {
		rec.AddAttributes(otellog.String("task_id", event.TaskID))
	}
	if event.Outcome != "" {
		rec.AddAttributes(otellog.String("outcome", event.Outcome))
	}
	if event.Detail != "" {
		rec.AddAttributes(otellog.String("detail", event.Detail))
	}
	if event.DurationMs > 0 {
		rec.AddAttributes(otellog.Int64("duration_ms", event.DurationMs))
	}
	e.logger.Emit(ctx, rec)
	return nil
}

func severity(event *domain.Event) otellog.Severity {
	if event.Outcome == "submit_failed" {
		return otellog.SeverityWarn
	}
	return otellog.SeverityInfo
}
