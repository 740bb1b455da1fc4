// Package session holds the single active verification prompt and its countdown.
//
// Machine methods are serialized on one mutex so the countdown ticker, inbound socket frames and
// operator keystrokes see a single writer. Events are queued under that mutex and delivered to
// observers in state order after it is released, so observers may read Snapshot. They must not call
// mutating methods synchronously.
package session

import (
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"salesops-relay/internal/verification/domain"
)

var (
	// ErrInactive is returned when a digit arrives while no countdown is running.
	ErrInactive = errors.New("session: countdown not active")
	// ErrSlotRange is returned for a digit index outside 0..CodeLength-1.
	ErrSlotRange = errors.New("session: slot index out of range")
)

// Submitter receives a complete code. Dispatch must not block; the outcome is reported elsewhere
// and never fed back into the Machine.
type Submitter interface {
	Dispatch(sessionID, taskID, code string)
}

// Disconnector tears down the notification socket.
type Disconnector interface {
	Disconnect()
}

// Observer is called with every state transition.
type Observer func(Event)

// Deps holds the collaborators of a Machine. Any field may be left zero.
type Deps struct {
	// Submitter receives completed codes. If nil, completed codes are dropped (logged).
	Submitter Submitter
	// Channel is disconnected on expiry, manual close and after submission.
	Channel Disconnector
	// Observers are notified after every transition.
	Observers []Observer
	// NewTicker creates the one-second countdown ticker. Defaults to a time.Ticker.
	NewTicker TickerFactory
	// Countdown is the number of seconds per prompt. Defaults to domain.CountdownStart.
	Countdown int
	// Logger defaults to zap.NewNop.
	Logger *zap.Logger
	// NewID returns session ids. Defaults to uuid.NewString.
	NewID func() string
	// Now defaults to time.Now().UTC().
	Now func() time.Time
}

// Machine is the verification session state machine: Idle until a verification_needed frame opens
// a prompt, AwaitingInput until the code is complete, the countdown expires, the operator closes
// the prompt or the backend confirms success.
type Machine struct {
	mu    sync.Mutex
	state domain.Session
	gen   uint64
	tick  *tickLoop

	// pending is guarded by mu and drained by whoever holds notifyMu.
	pending  []Event
	notifyMu sync.Mutex

	submitter Submitter
	channel   Disconnector
	observers []Observer
	newTicker TickerFactory
	countdown int
	logger    *zap.Logger
	newID     func() string
	now       func() time.Time
}

// NewMachine returns an idle Machine.
func NewMachine(deps Deps) *Machine {
	m := &Machine{
		submitter: deps.Submitter,
		channel:   deps.Channel,
		observers: deps.Observers,
		newTicker: deps.NewTicker,
		countdown: deps.Countdown,
		logger:    deps.Logger,
		newID:     deps.NewID,
		now:       deps.Now,
	}
	if m.newTicker == nil {
		m.newTicker = NewTimeTicker
	}
	if m.countdown <= 0 {
		m.countdown = domain.CountdownStart
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	return m
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open starts a prompt for f, replacing any prompt already shown.
func (m *Machine) Open(f domain.NeedFrame) {
	m.mu.Lock()
	var superseded *Event
	if m.state.Visible {
		superseded = &Event{Type: EventSuperseded, Session: m.state}
	}
	m.stopTickerLocked()
	m.gen++
	m.state = domain.Session{
		SessionID:        m.newID(),
		TaskID:           f.TaskID,
		PromptMessage:    f.Message,
		PhoneNumber:      domain.ExtractPhone(f.Message),
		Visible:          true,
		CountdownSeconds: m.countdown,
		OpenedAt:         m.now(),
	}
	m.startTickerLocked()
	opened := Event{Type: EventOpened, Session: m.state}
	m.logger.Info("session: prompt opened",
		zap.String("session_id", m.state.SessionID),
		zap.String("task_id", m.state.TaskID),
		zap.String("phone", m.state.PhoneNumber))

	if superseded != nil {
		m.publishAndUnlock(*superseded, opened)
		return
	}
	m.publishAndUnlock(opened)
}

// Tick advances the countdown by one second. At zero the prompt is torn down without submission
// and the channel is disconnected.
func (m *Machine) Tick() {
	m.mu.Lock()
	m.tickLocked(m.gen)
}

func (m *Machine) tickFrom(gen uint64) {
	m.mu.Lock()
	m.tickLocked(gen)
}

// tickLocked expects m.mu held and releases it.
func (m *Machine) tickLocked(gen uint64) {
	if gen != m.gen || !m.state.CountdownActive {
		m.mu.Unlock()
		return
	}
	m.state.CountdownSeconds--
	if m.state.CountdownSeconds > 0 {
		m.publishAndUnlock(Event{Type: EventTicked, Session: m.state})
		return
	}
	expired := m.state
	expired.CountdownActive = false
	m.teardownLocked()
	m.logger.Info("session: countdown expired",
		zap.String("session_id", expired.SessionID),
		zap.String("task_id", expired.TaskID))
	m.publishAndUnlock(Event{Type: EventExpired, Session: expired})
	m.disconnect()
}

// SetDigit writes the first character of input into slot i. It returns the slot that should take
// focus next and whether focus moves. Input is rejected with ErrInactive while no countdown runs.
// When the write completes the code, the prompt is closed first and the code is then dispatched
// to the Submitter.
func (m *Machine) SetDigit(i int, input string) (next int, advance bool, err error) {
	if i < 0 || i >= domain.CodeLength {
		return i, false, ErrSlotRange
	}
	m.mu.Lock()
	if !m.state.CountdownActive {
		m.mu.Unlock()
		return i, false, ErrInactive
	}
	ch := firstChar(input)
	m.state.Digits[i] = ch
	if ch != "" && i < domain.CodeLength-1 {
		next, advance = i+1, true
	} else {
		next = i
	}

	if !m.state.Complete() {
		m.publishAndUnlock(Event{Type: EventChanged, Session: m.state})
		return next, advance, nil
	}

	completed := m.state
	completed.CountdownActive = false
	completed.Visible = false
	m.teardownLocked()
	m.logger.Info("session: code complete, submitting",
		zap.String("session_id", completed.SessionID),
		zap.String("task_id", completed.TaskID))
	m.publishAndUnlock(Event{Type: EventSubmitted, Session: completed})

	if m.submitter != nil {
		m.submitter.Dispatch(completed.SessionID, completed.TaskID, completed.Code())
	} else {
		m.logger.Warn("session: no submitter configured, code dropped", zap.String("task_id", completed.TaskID))
	}
	m.disconnect()
	return next, false, nil
}

// Backspace reports where focus goes when backspace is pressed on slot i. Focus moves to i-1 only
// when slot i is empty and i > 0. State is never changed.
func (m *Machine) Backspace(i int) (prev int, move bool) {
	if i <= 0 || i >= domain.CodeLength {
		return i, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Digits[i] != "" {
		return i, false
	}
	return i - 1, true
}

// Close dismisses the prompt without submitting and disconnects the channel.
func (m *Machine) Close() {
	m.mu.Lock()
	if !m.state.Visible {
		m.mu.Unlock()
		return
	}
	closed := m.state
	closed.Visible = false
	closed.CountdownActive = false
	m.teardownLocked()
	m.logger.Info("session: prompt closed by operator",
		zap.String("session_id", closed.SessionID),
		zap.String("task_id", closed.TaskID))
	m.publishAndUnlock(Event{Type: EventClosed, Session: closed})
	m.disconnect()
}

// Confirm handles verification_success: a visible prompt is closed without submission. The
// channel stays connected. No effect when idle.
func (m *Machine) Confirm() {
	m.mu.Lock()
	if !m.state.Visible {
		m.mu.Unlock()
		return
	}
	confirmed := m.state
	confirmed.Visible = false
	confirmed.CountdownActive = false
	m.teardownLocked()
	m.logger.Info("session: backend confirmed verification",
		zap.String("session_id", confirmed.SessionID),
		zap.String("task_id", confirmed.TaskID))
	m.publishAndUnlock(Event{Type: EventConfirmed, Session: confirmed})
}

// Stop halts the countdown without publishing. Used on process shutdown.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTickerLocked()
	m.state.CountdownActive = false
}

// teardownLocked resets the session to idle and stops the ticker.
func (m *Machine) teardownLocked() {
	m.stopTickerLocked()
	m.gen++
	m.state = domain.Session{}
}

func (m *Machine) startTickerLocked() {
	m.tick = startTickLoop(m.newTicker(time.Second), m.gen, m.tickFrom)
	m.state.CountdownActive = true
}

func (m *Machine) stopTickerLocked() {
	if m.tick != nil {
		m.tick.stop()
		m.tick = nil
	}
	m.state.CountdownActive = false
}

// publishAndUnlock queues events in state order, releases m.mu and delivers everything queued so
// far. m.mu is never held while waiting for notifyMu, so observers may take it through Snapshot.
func (m *Machine) publishAndUnlock(events ...Event) {
	m.pending = append(m.pending, events...)
	m.mu.Unlock()

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			for _, o := range m.observers {
				o(ev)
			}
		}
	}
}

func (m *Machine) disconnect() {
	if m.channel != nil {
		m.channel.Disconnect()
	}
}

func firstChar(s string) string {
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError && size <= 1 {
		return s[:1]
	}
	return s[:size]
}
