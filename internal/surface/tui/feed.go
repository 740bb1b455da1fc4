package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"salesops-relay/internal/verification/session"
)

// SessionMsg reports a Machine transition.
type SessionMsg struct {
	Event session.Event
}

// ConnStateMsg reports a socket state change.
type ConnStateMsg struct {
	Connected bool
}

// Feed carries Machine events and socket state into the program. Pushes never block: Machine
// observers run while the program may be inside Update, so a blocking send would deadlock. When
// the buffer is full the message is dropped; the model re-reads the snapshot on the next one.
type Feed struct {
	ch chan tea.Msg
}

// NewFeed returns a Feed with the given buffer size (minimum 1).
func NewFeed(size int) *Feed {
	if size < 1 {
		size = 1
	}
	return &Feed{ch: make(chan tea.Msg, size)}
}

// Observe is a session.Observer.
func (f *Feed) Observe(ev session.Event) {
	f.push(SessionMsg{Event: ev})
}

// SetConnected is a channel state callback.
func (f *Feed) SetConnected(connected bool) {
	f.push(ConnStateMsg{Connected: connected})
}

func (f *Feed) push(msg tea.Msg) {
	select {
	case f.ch <- msg:
	default:
	}
}

// wait returns a command that delivers the next feed message.
func (f *Feed) wait() tea.Cmd {
	return func() tea.Msg {
		return <-f.ch
	}
}
