package domain

import "time"

// Outcome is what happened to a verification session.
type Outcome string

const (
	OutcomeOpened       Outcome = "opened"
	OutcomeSuperseded   Outcome = "superseded"
	OutcomeSubmitted    Outcome = "submitted"
	OutcomeAccepted     Outcome = "accepted"
	OutcomeSubmitFailed Outcome = "submit_failed"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeExpired      Outcome = "expired"
	OutcomeClosed       Outcome = "closed"
	OutcomeConfirmed    Outcome = "confirmed"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeOpened, OutcomeSuperseded, OutcomeSubmitted, OutcomeAccepted, OutcomeSubmitFailed,
		OutcomeSkipped, OutcomeExpired, OutcomeClosed, OutcomeConfirmed:
		return true
	}
	return false
}

// Attempt is one recorded step of a verification session. The code itself is never stored.
type Attempt struct {
	ID        string
	SessionID string
	TaskID    string
	Phone     string
	Outcome   Outcome
	Detail    string
	CreatedAt time.Time
}
