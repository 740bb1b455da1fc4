package telemetry

import (
	"context"
	"time"

	"salesops-relay/internal/telemetry/domain"
	"salesops-relay/internal/verification/session"
	"salesops-relay/internal/verification/submit"
)

// Source is the source field of every relay event.
const Source = "relay"

// Reporter turns session transitions and submission outcomes into telemetry events and counters.
type Reporter struct {
	async   *Async
	metrics *Metrics
	nowF    func() time.Time
}

// NewReporter returns a Reporter. Either argument may be nil.
func NewReporter(async *Async, metrics *Metrics) *Reporter {
	return &Reporter{async: async, metrics: metrics, nowF: func() time.Time { return time.Now().UTC() }}
}

// Observe is a session.Observer.
func (r *Reporter) Observe(ev session.Event) {
	ctx := context.Background()
	var eventType string
	switch ev.Type {
	case session.EventOpened:
		eventType = domain.EventSessionOpened
		r.metrics.SessionOpened(ctx)
	case session.EventSuperseded:
		eventType = domain.EventSessionSuperseded
	case session.EventSubmitted:
		eventType = domain.EventCodeCompleted
	case session.EventExpired:
		eventType = domain.EventSessionExpired
		r.metrics.SessionExpired(ctx)
	case session.EventClosed:
		eventType = domain.EventSessionClosed
	case session.EventConfirmed:
		eventType = domain.EventSessionConfirmed
	default:
		return
	}
	r.async.Emit(&domain.Event{
		EventType: eventType,
		Source:    Source,
		SessionID: ev.Session.SessionID,
		TaskID:    ev.Session.TaskID,
		Outcome:   string(ev.Type),
		CreatedAt: r.nowF(),
	})
}

// SubmitHook is a submit.Hook.
func (r *Reporter) SubmitHook(ctx context.Context, o submit.Outcome) {
	r.metrics.Submission(ctx, string(o.Status))
	r.async.Emit(&domain.Event{
		EventType:  domain.EventCodeSubmitted,
		Source:     Source,
		SessionID:  o.SessionID,
		TaskID:     o.TaskID,
		Outcome:    string(o.Status),
		Detail:     o.Message,
		DurationMs: o.Duration.Milliseconds(),
		CreatedAt:  r.nowF(),
	})
}
