package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"salesops-relay/internal/telemetry/domain"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("noop Emit(ctx, nil): %v", err)
	}
	if err := em.Emit(context.Background(), &domain.Event{TaskID: "t1"}); err != nil {
		t.Errorf("noop Emit(ctx, event): %v", err)
	}
}

func TestEmit_WithProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(ctx, nil): %v", err)
	}
	if err := em.Emit(context.Background(), &domain.Event{EventType: domain.EventSessionOpened}); err != nil {
		t.Errorf("Emit: %v", err)
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec   otellog.Record
	count int
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
	r.count++
}

func attrs(rec otellog.Record) map[string]otellog.Value {
	out := map[string]otellog.Value{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value
		return true
	})
	return out
}

func TestEmit_AttributeMapping(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	created := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	event := &domain.Event{
		EventType:  domain.EventCodeSubmitted,
		Source:     "relay",
		SessionID:  "s1",
		TaskID:     "t1",
		Outcome:    "submit_failed",
		Detail:     "验证码错误",
		DurationMs: 120,
		CreatedAt:  created,
	}
	if err := em.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if capture.count != 1 {
		t.Fatalf("records = %d, want 1", capture.count)
	}
	rec := capture.rec
	if !rec.Timestamp().Equal(created) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), created)
	}
	if rec.EventName() != domain.EventCodeSubmitted {
		t.Errorf("event name = %q, want %q", rec.EventName(), domain.EventCodeSubmitted)
	}
	if rec.Severity() != otellog.SeverityWarn {
		t.Errorf("severity = %v, want warn", rec.Severity())
	}
	a := attrs(rec)
	want := map[string]string{
		"event_type": domain.EventCodeSubmitted,
		"source":     "relay",
		"session_id": "s1",
		"task_id":    "t1",
		"outcome":    "submit_failed",
		"detail":     "验证码错误",
	}
	for k, v := range want {
		if got := a[k].AsString(); got != v {
			t.Errorf("attr %s = %q, want %q", k, got, v)
		}
	}
	if a["duration_ms"].AsInt64() != 120 {
		t.Errorf("duration_ms = %d, want 120", a["duration_ms"].AsInt64())
	}
}

func TestEmit_OmitsEmptyFieldsAndDefaultsTimestamp(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	before := time.Now().UTC()
	if err := em.Emit(context.Background(), &domain.Event{EventType: domain.EventSessionExpired, Source: "relay"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	a := attrs(capture.rec)
	for _, k := range []string{"session_id", "task_id", "outcome", "detail", "duration_ms"} {
		if _, ok := a[k]; ok {
			t.Errorf("attr %s should be omitted", k)
		}
	}
	if capture.rec.Timestamp().Before(before) {
		t.Error("timestamp should default to now")
	}
	if capture.rec.Severity() != otellog.SeverityInfo {
		t.Errorf("severity = %v, want info", capture.rec.Severity())
	}
}
