// Package tui is the terminal presentation surface of the verification prompt.
//
// The model never changes session state itself: it renders Machine snapshots and turns keys into
// SetDigit, Backspace and Close calls.
package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"salesops-relay/internal/notify"
	"salesops-relay/internal/verification/domain"
	"salesops-relay/internal/verification/session"
)

// statusTTL is how long a notification stays on the status line.
const statusTTL = 4 * time.Second

// Session is the part of *session.Machine the surface uses.
type Session interface {
	Snapshot() domain.Session
	SetDigit(i int, input string) (next int, advance bool, err error)
	Backspace(i int) (prev int, move bool)
	Close()
}

// Connector is the part of *channel.Channel the surface uses.
type Connector interface {
	Connect(ctx context.Context) error
	Connected() bool
}

// notificationMsg carries one notification to the status line.
type notificationMsg struct {
	n notify.Notification
}

// clearStatusMsg clears the status line if it still shows notification seq.
type clearStatusMsg struct {
	seq int
}

// reconnectMsg is the result of an operator-triggered Connect.
type reconnectMsg struct {
	err error
}

// Model is the bubbletea model of the relay.
type Model struct {
	ctx     context.Context
	session Session
	conn    Connector
	feed    *Feed
	notes   <-chan notify.Notification

	snap      domain.Session
	cursor    int
	connected bool
	status    string
	level     notify.Level
	statusSeq int
}

// NewModel returns the model. conn and notes may be nil.
func NewModel(ctx context.Context, s Session, conn Connector, feed *Feed, notes <-chan notify.Notification) Model {
	m := Model{ctx: ctx, session: s, conn: conn, feed: feed, notes: notes, snap: s.Snapshot()}
	if conn != nil {
		m.connected = conn.Connected()
	}
	return m
}

// Init starts listening on the feed and the notification channel.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitFeed(), m.waitNote())
}

// Update handles one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case SessionMsg:
		if msg.Event.Type == session.EventOpened {
			m.cursor = 0
		}
		m.snap = m.session.Snapshot()
		return m, m.waitFeed()

	case ConnStateMsg:
		m.connected = msg.Connected
		return m, m.waitFeed()

	case notificationMsg:
		m.statusSeq++
		m.status = msg.n.Title
		if msg.n.Message != "" {
			m.status += ": " + msg.n.Message
		}
		m.level = msg.n.Level
		seq := m.statusSeq
		return m, tea.Batch(m.waitNote(), tea.Tick(statusTTL, func(time.Time) tea.Msg { return clearStatusMsg{seq: seq} }))

	case clearStatusMsg:
		if msg.seq == m.statusSeq {
			m.status = ""
		}
		return m, nil

	case reconnectMsg:
		if msg.err != nil {
			m.setStatus(notify.LevelError, "连接失败: "+msg.err.Error())
		}
		if m.conn != nil {
			m.connected = m.conn.Connected()
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.snap = m.session.Snapshot()
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEsc:
		if m.snap.Visible {
			m.session.Close()
			m.cursor = 0
			m.snap = m.session.Snapshot()
		}
		return m, nil

	case tea.KeyLeft, tea.KeyShiftTab:
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case tea.KeyRight, tea.KeyTab:
		if m.cursor < domain.CodeLength-1 {
			m.cursor++
		}
		return m, nil

	case tea.KeyBackspace, tea.KeyDelete:
		if !m.snap.Visible {
			return m, nil
		}
		if m.snap.Digits[m.cursor] != "" {
			_, _, _ = m.session.SetDigit(m.cursor, "")
		} else if prev, move := m.session.Backspace(m.cursor); move {
			m.cursor = prev
		}
		m.snap = m.session.Snapshot()
		return m, nil

	case tea.KeyRunes:
		if !m.snap.Visible {
			return m.handleIdleKey(msg)
		}
		next, advance, err := m.session.SetDigit(m.cursor, string(msg.Runes))
		if err == nil && advance {
			m.cursor = next
		}
		if errors.Is(err, session.ErrInactive) {
			m.setStatus(notify.LevelWarning, "倒计时已结束")
		}
		m.snap = m.session.Snapshot()
		if !m.snap.Visible {
			m.cursor = 0
		}
		return m, nil
	}
	return m, nil
}

// handleIdleKey handles keys while no prompt is shown: q quits and r reconnects.
func (m Model) handleIdleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "r":
		if m.conn == nil || m.conn.Connected() {
			return m, nil
		}
		m.setStatus(notify.LevelInfo, "正在连接…")
		return m, m.reconnect()
	}
	return m, nil
}

func (m *Model) setStatus(level notify.Level, text string) {
	m.statusSeq++
	m.status = text
	m.level = level
}

func (m Model) reconnect() tea.Cmd {
	conn, ctx := m.conn, m.ctx
	return func() tea.Msg {
		return reconnectMsg{err: conn.Connect(ctx)}
	}
}

func (m Model) waitFeed() tea.Cmd {
	if m.feed == nil {
		return nil
	}
	return m.feed.wait()
}

func (m Model) waitNote() tea.Cmd {
	if m.notes == nil {
		return nil
	}
	notes := m.notes
	return func() tea.Msg {
		n, ok := <-notes
		if !ok {
			return nil
		}
		return notificationMsg{n: n}
	}
}

// Run runs the program until the operator quits or ctx is done.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
