package session

import "salesops-relay/internal/verification/domain"

// EventType names a Machine transition.
type EventType string

const (
	// EventOpened: a verification_needed frame opened a prompt.
	EventOpened EventType = "opened"
	// EventSuperseded: an open prompt was replaced by a newer verification_needed frame.
	EventSuperseded EventType = "superseded"
	// EventChanged: a digit slot changed.
	EventChanged EventType = "changed"
	// EventTicked: the countdown decreased and is still above zero.
	EventTicked EventType = "ticked"
	// EventSubmitted: the code was completed; the prompt is closed and submission dispatched.
	EventSubmitted EventType = "submitted"
	// EventExpired: the countdown reached zero.
	EventExpired EventType = "expired"
	// EventClosed: the operator dismissed the prompt.
	EventClosed EventType = "closed"
	// EventConfirmed: the backend reported success through another path.
	EventConfirmed EventType = "confirmed"
)

// Event is one transition. For terminal events (Submitted, Expired, Closed, Confirmed,
// Superseded) Session is the prompt as it was when it ended, including its task id and digits;
// otherwise it is the current state.
type Event struct {
	Type    EventType
	Session domain.Session
}

// Terminal reports whether the event ends a prompt.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventSubmitted, EventExpired, EventClosed, EventConfirmed, EventSuperseded:
		return true
	}
	return false
}
