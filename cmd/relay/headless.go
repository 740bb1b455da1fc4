package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"salesops-relay/internal/notify"
	"salesops-relay/internal/verification/domain"
	"salesops-relay/internal/verification/session"
)

var errCodeLength = fmt.Errorf("code must be %d characters", domain.CodeLength)

// codeSession is the part of *session.Machine the headless loop drives.
type codeSession interface {
	Snapshot() domain.Session
	SetDigit(i int, input string) (next int, advance bool, err error)
	Close()
}

// reconnector is the part of *channel.Channel the headless loop drives.
type reconnector interface {
	Connect(ctx context.Context) error
	Connected() bool
	Done() <-chan struct{}
}

// headless is the stdin/stdout surface of listen --headless.
type headless struct {
	in     io.Reader
	rearm  bool
	logger *zap.Logger

	mu  sync.Mutex
	out io.Writer

	ended chan struct{}
}

func newHeadless(in io.Reader, out io.Writer, rearm bool, logger *zap.Logger) *headless {
	return &headless{in: in, out: out, rearm: rearm, logger: logger, ended: make(chan struct{}, 1)}
}

func (h *headless) printf(format string, args ...interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.out, format+"\n", args...)
}

// Observe is a session.Observer. It prints prompt transitions and queues a re-arm when a prompt
// ends in a way that dropped the socket.
func (h *headless) Observe(ev session.Event) {
	s := ev.Session
	switch ev.Type {
	case session.EventOpened:
		h.printf("verification needed: task=%s phone=%s, enter the %d-digit code within %ds",
			s.TaskID, s.PhoneNumber, domain.CodeLength, s.CountdownSeconds)
	case session.EventSuperseded:
		h.printf("prompt for task=%s replaced by a newer request", s.TaskID)
	case session.EventExpired:
		h.printf("prompt for task=%s expired", s.TaskID)
	case session.EventClosed:
		h.printf("prompt for task=%s closed", s.TaskID)
	case session.EventConfirmed:
		h.printf("task=%s verified by the backend", s.TaskID)
	case session.EventSubmitted:
		h.printf("submitting code for task=%s", s.TaskID)
	default:
		return
	}
	switch ev.Type {
	case session.EventSubmitted, session.EventExpired, session.EventClosed:
		select {
		case h.ended <- struct{}{}:
		default:
		}
	}
}

// Notify prints a notification line.
func (h *headless) Notify(_ context.Context, n notify.Notification) {
	if n.Message != "" {
		h.printf("[%s] %s: %s", n.Level, n.Title, n.Message)
		return
	}
	h.printf("[%s] %s", n.Level, n.Title)
}

// Run reads stdin until ctx is done. End of input stops reading but keeps the socket open.
func (h *headless) Run(ctx context.Context, s codeSession, conn reconnector) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(h.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			h.handleLine(ctx, line, s, conn)
		case <-h.ended:
			if h.rearm {
				h.reconnect(ctx, conn)
			}
		}
	}
}

func (h *headless) handleLine(ctx context.Context, line string, s codeSession, conn reconnector) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return
	case "close":
		s.Close()
		return
	case "r":
		if conn.Connected() {
			h.printf("already connected")
			return
		}
		h.reconnect(ctx, conn)
		return
	}
	if err := typeCode(s, line); err != nil {
		h.printf("code not accepted: %v", err)
	}
}

// reconnect waits for the previous socket to finish closing, then dials again.
func (h *headless) reconnect(ctx context.Context, conn reconnector) {
	select {
	case <-conn.Done():
	case <-ctx.Done():
		return
	}
	if err := conn.Connect(ctx); err != nil {
		h.logger.Warn("listen: reconnect failed", zap.Error(err))
		h.printf("reconnect failed: %v", err)
		return
	}
	h.printf("connected, waiting for verification requests")
}

// typeCode writes code into the slots in order, as if typed into the prompt.
func typeCode(s codeSession, code string) error {
	if !s.Snapshot().Visible {
		return errors.New("no prompt is open")
	}
	if utf8.RuneCountInString(code) != domain.CodeLength {
		return errCodeLength
	}
	i := 0
	for _, r := range code {
		if _, _, err := s.SetDigit(i, string(r)); err != nil {
			return err
		}
		i++
	}
	return nil
}
