package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"salesops-relay/internal/telemetry/domain"
)

// emitTimeout is the max time allowed for a single async emit. Used by Async and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait for in-flight async emits before shutting down OTel
// providers. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// Async runs Emit in goroutines with a short timeout so the caller is not blocked.
type Async struct {
	emitter EventEmitter
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewAsync wraps emitter. emitter may be nil; Emit then does nothing.
func NewAsync(emitter EventEmitter, logger *zap.Logger) *Async {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Async{emitter: emitter, logger: logger}
}

// Emit sends event in the background. The goroutine uses context.Background() with emitTimeout so
// the caller's cancellation does not abort an in-flight emit. Errors are logged.
func (a *Async) Emit(event *domain.Event) {
	if a == nil || a.emitter == nil || event == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := a.emitter.Emit(ctx, event); err != nil {
			a.logger.Warn("telemetry: async emit failed", zap.String("event_type", event.EventType), zap.Error(err))
		}
	}()
}

// Drain waits for in-flight emits or until ctx is done. It returns ctx.Err() on timeout.
func (a *Async) Drain(ctx context.Context) error {
	if a == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
