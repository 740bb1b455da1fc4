package domain

import "time"

// Event types emitted by the relay.
const (
	EventSessionOpened     = "verification.session.opened"
	EventSessionSuperseded = "verification.session.superseded"
	EventSessionExpired    = "verification.session.expired"
	EventSessionClosed     = "verification.session.closed"
	EventSessionConfirmed  = "verification.session.confirmed"
	EventCodeCompleted     = "verification.code.completed"
	EventCodeSubmitted     = "verification.code.submitted"
)

// Event is one lifecycle event of a verification session. It never carries the code.
type Event struct {
	EventType  string    `json:"event_type"`
	Source     string    `json:"source"`
	SessionID  string    `json:"session_id,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
