package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the relay's counters.
const MeterName = "salesops-relay"

// Metrics holds the relay's OTel counters.
type Metrics struct {
	sessionsOpened  metric.Int64Counter
	submissions     metric.Int64Counter
	sessionsExpired metric.Int64Counter
}

// NewMetrics registers the counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	opened, err := meter.Int64Counter("relay.sessions.opened",
		metric.WithDescription("Verification prompts opened"))
	if err != nil {
		return nil, err
	}
	submissions, err := meter.Int64Counter("relay.submissions",
		metric.WithDescription("Code submissions by status"))
	if err != nil {
		return nil, err
	}
	expired, err := meter.Int64Counter("relay.sessions.expired",
		metric.WithDescription("Verification prompts whose countdown ran out"))
	if err != nil {
		return nil, err
	}
	return &Metrics{sessionsOpened: opened, submissions: submissions, sessionsExpired: expired}, nil
}

// SessionOpened counts one opened prompt.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsOpened.Add(ctx, 1)
}

// SessionExpired counts one expired prompt.
func (m *Metrics) SessionExpired(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsExpired.Add(ctx, 1)
}

// Submission counts one submission with the given status.
func (m *Metrics) Submission(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
