// Package notify delivers operator-facing notifications (submission outcomes, connection changes)
// separately from the verification prompt itself.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Level is the severity of a Notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// SourceVerification marks notifications raised by the verification handshake.
const SourceVerification = "verification"

// Notification is one operator-facing message.
type Notification struct {
	Level     Level
	Source    string
	Title     string
	Message   string
	TaskID    string
	SessionID string
	At        time.Time
}

// Notifier delivers notifications. Implementations must not block for long and must not fail the
// caller; delivery problems are logged.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Nop discards notifications.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Notification) {}

// LogNotifier writes notifications to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a LogNotifier. A nil logger discards.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs n at a zap level matching n.Level.
func (l *LogNotifier) Notify(_ context.Context, n Notification) {
	fields := []zap.Field{
		zap.String("source", n.Source),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
	}
	if n.TaskID != "" {
		fields = append(fields, zap.String("task_id", n.TaskID))
	}
	if n.SessionID != "" {
		fields = append(fields, zap.String("session_id", n.SessionID))
	}
	switch n.Level {
	case LevelError:
		l.logger.Error("notify: "+n.Title, fields...)
	case LevelWarning:
		l.logger.Warn("notify: "+n.Title, fields...)
	default:
		l.logger.Info("notify: "+n.Title, fields...)
	}
}

// Fanout delivers every notification to each notifier in order.
type Fanout []Notifier

// Notify forwards n to every non-nil notifier.
func (f Fanout) Notify(ctx context.Context, n Notification) {
	for _, nt := range f {
		if nt != nil {
			nt.Notify(ctx, n)
		}
	}
}

// Filter decides whether a notification is delivered.
type Filter interface {
	Allow(ctx context.Context, n Notification) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(ctx context.Context, n Notification) bool

// Allow calls f.
func (f FilterFunc) Allow(ctx context.Context, n Notification) bool { return f(ctx, n) }

// Filtered forwards to Next only the notifications Filter allows.
type Filtered struct {
	Filter Filter
	Next   Notifier
}

// Notify forwards n when allowed. A nil Filter allows everything.
func (f Filtered) Notify(ctx context.Context, n Notification) {
	if f.Next == nil {
		return
	}
	if f.Filter != nil && !f.Filter.Allow(ctx, n) {
		return
	}
	f.Next.Notify(ctx, n)
}

// Channel is a Notifier backed by a buffered Go channel. Surfaces read from C. When the buffer is
// full the notification is dropped rather than blocking the sender.
type Channel struct {
	ch     chan Notification
	logger *zap.Logger
}

// NewChannel returns a Channel with the given buffer size (minimum 1).
func NewChannel(size int, logger *zap.Logger) *Channel {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{ch: make(chan Notification, size), logger: logger}
}

// C returns the receive side.
func (c *Channel) C() <-chan Notification { return c.ch }

// Notify enqueues n or drops it when the buffer is full.
func (c *Channel) Notify(_ context.Context, n Notification) {
	select {
	case c.ch <- n:
	default:
		c.logger.Debug("notify: channel full, dropping notification", zap.String("title", n.Title))
	}
}
