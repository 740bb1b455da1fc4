// Package history keeps a best-effort log of verification attempts.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"salesops-relay/internal/history/domain"
	"salesops-relay/internal/history/repository"
	"salesops-relay/internal/verification/session"
	"salesops-relay/internal/verification/submit"
)

// writeTimeout bounds one asynchronous insert.
const writeTimeout = 5 * time.Second

// Recorder writes attempts to the repository in the background. Failures are logged and never
// reach the caller. A Recorder with a nil repository records nothing.
type Recorder struct {
	repo   repository.Repository
	logger *zap.Logger
	nowF   func() time.Time
	wg     sync.WaitGroup
}

// NewRecorder returns a Recorder persisting to repo. repo may be nil.
func NewRecorder(repo repository.Repository, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{repo: repo, logger: logger, nowF: func() time.Time { return time.Now().UTC() }}
}

// Record stores one attempt synchronously. Errors are logged and not returned.
func (r *Recorder) Record(ctx context.Context, sessionID, taskID, phone string, outcome domain.Outcome, detail string) {
	if r.repo == nil || taskID == "" {
		return
	}
	a := &domain.Attempt{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		TaskID:    taskID,
		Phone:     phone,
		Outcome:   outcome,
		Detail:    detail,
		CreatedAt: r.nowF(),
	}
	if err := r.repo.Create(ctx, a); err != nil {
		r.logger.Warn("history: failed to record attempt",
			zap.String("task_id", taskID),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
	}
}

// RecordAsync runs Record in a goroutine with its own timeout so the caller is not blocked.
func (r *Recorder) RecordAsync(sessionID, taskID, phone string, outcome domain.Outcome, detail string) {
	if r.repo == nil || taskID == "" {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		r.Record(ctx, sessionID, taskID, phone, outcome, detail)
	}()
}

// Wait blocks until pending asynchronous writes finish.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Observe records prompt lifecycle transitions. Ticks and digit changes are not recorded.
func (r *Recorder) Observe(ev session.Event) {
	outcome, ok := OutcomeForEvent(ev.Type)
	if !ok {
		return
	}
	s := ev.Session
	r.RecordAsync(s.SessionID, s.TaskID, s.PhoneNumber, outcome, "")
}

// SubmitHook records the result of a dispatched submission.
func (r *Recorder) SubmitHook(ctx context.Context, o submit.Outcome) {
	r.Record(ctx, o.SessionID, o.TaskID, "", OutcomeForStatus(o.Status), o.Message)
}

// OutcomeForEvent maps a session transition to a recorded outcome.
func OutcomeForEvent(t session.EventType) (domain.Outcome, bool) {
	switch t {
	case session.EventOpened:
		return domain.OutcomeOpened, true
	case session.EventSuperseded:
		return domain.OutcomeSuperseded, true
	case session.EventSubmitted:
		return domain.OutcomeSubmitted, true
	case session.EventExpired:
		return domain.OutcomeExpired, true
	case session.EventClosed:
		return domain.OutcomeClosed, true
	case session.EventConfirmed:
		return domain.OutcomeConfirmed, true
	}
	return "", false
}

// OutcomeForStatus maps a submission status to a recorded outcome.
func OutcomeForStatus(s submit.Status) domain.Outcome {
	switch s {
	case submit.StatusAccepted:
		return domain.OutcomeAccepted
	case submit.StatusSkipped:
		return domain.OutcomeSkipped
	default:
		return domain.OutcomeSubmitFailed
	}
}
