package submit

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"salesops-relay/internal/notify"
	"salesops-relay/internal/verification/domain"
)

// releaseTimeout bounds dropping a claim after a failed submission.
const releaseTimeout = 3 * time.Second

// Status is the result of one dispatched submission.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusFailed   Status = "submit_failed"
	StatusSkipped  Status = "skipped"
)

// Outcome describes how a dispatched submission ended.
type Outcome struct {
	SessionID string
	TaskID    string
	Status    Status
	// Message is the backend message, or the reason for a skip or failure.
	Message  string
	Err      error
	Duration time.Duration
}

// Hook receives every Outcome. Hooks run on the submission goroutine.
type Hook func(ctx context.Context, o Outcome)

// Options configures a Submitter.
type Options struct {
	// Timeout bounds one submission including the claim. Defaults to 15s.
	Timeout time.Duration
	// Claims guards against submitting the same code for a task twice. Nil disables the guard.
	Claims   Claimer
	Notifier notify.Notifier
	Hooks    []Hook
	Logger   *zap.Logger
}

// Submitter runs submissions in the background. Outcomes go to the notifier and hooks only.
type Submitter struct {
	api      API
	timeout  time.Duration
	claims   Claimer
	notifier notify.Notifier
	hooks    []Hook
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewSubmitter returns a Submitter posting through api.
func NewSubmitter(api API, opts Options) *Submitter {
	s := &Submitter{
		api:      api,
		timeout:  opts.Timeout,
		claims:   opts.Claims,
		notifier: opts.Notifier,
		hooks:    opts.Hooks,
		logger:   opts.Logger,
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Dispatch starts the submission and returns immediately. There is no retry and no way to cancel
// an in-flight submission.
func (s *Submitter) Dispatch(sessionID, taskID, code string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.Run(ctx, sessionID, taskID, code)
	}()
}

// Wait blocks until every dispatched submission has finished.
func (s *Submitter) Wait() {
	s.wg.Wait()
}

// Run performs one submission synchronously and reports its Outcome.
func (s *Submitter) Run(ctx context.Context, sessionID, taskID, code string) Outcome {
	start := time.Now()
	o := s.submit(ctx, sessionID, taskID, code)
	o.Duration = time.Since(start)
	s.report(ctx, o)
	return o
}

func (s *Submitter) submit(ctx context.Context, sessionID, taskID, code string) Outcome {
	o := Outcome{SessionID: sessionID, TaskID: taskID}

	var claimKey string
	if s.claims != nil && taskID != "" && utf8.RuneCountInString(code) == domain.CodeLength {
		key := ClaimKey(taskID, code)
		ok, err := s.claims.Claim(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("submit: claim failed, submitting anyway", zap.String("task_id", taskID), zap.Error(err))
		case !ok:
			o.Status, o.Err, o.Message = StatusFailed, ErrClaimed, "该验证码已提交过"
			return o
		default:
			claimKey = key
		}
	}

	resp, err := s.api.Submit(ctx, taskID, code)
	o.Message = resp.Message
	switch {
	case errors.Is(err, ErrSkipped):
		o.Status, o.Err = StatusSkipped, err
		if o.Message == "" {
			o.Message = "incomplete code or missing task id"
		}
	case err != nil:
		o.Status, o.Err = StatusFailed, err
		if o.Message == "" {
			o.Message = err.Error()
		}
	default:
		o.Status = StatusAccepted
	}

	if o.Status == StatusFailed && claimKey != "" {
		s.release(claimKey, taskID)
	}
	return o
}

// release drops a claim after a failed submission so the operator can send the same code again.
// It uses its own context because ctx may already be past its deadline.
func (s *Submitter) release(key, taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := s.claims.Release(ctx, key); err != nil {
		s.logger.Warn("submit: claim release failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (s *Submitter) report(ctx context.Context, o Outcome) {
	fields := []zap.Field{
		zap.String("session_id", o.SessionID),
		zap.String("task_id", o.TaskID),
		zap.String("status", string(o.Status)),
		zap.Duration("duration", o.Duration),
	}
	n := notify.Notification{
		Source:    notify.SourceVerification,
		TaskID:    o.TaskID,
		SessionID: o.SessionID,
		Message:   o.Message,
		At:        time.Now().UTC(),
	}
	switch o.Status {
	case StatusAccepted:
		s.logger.Info("submit: code accepted", fields...)
		n.Level, n.Title = notify.LevelSuccess, "验证码提交成功"
		s.notifier.Notify(ctx, n)
	case StatusFailed:
		s.logger.Warn("submit: code submission failed", append(fields, zap.Error(o.Err))...)
		n.Level, n.Title = notify.LevelError, "验证码提交失败"
		s.notifier.Notify(ctx, n)
	default:
		s.logger.Info("submit: submission skipped", append(fields, zap.String("reason", o.Message))...)
	}
	for _, h := range s.hooks {
		h(ctx, o)
	}
}
