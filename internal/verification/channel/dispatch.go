package channel

import (
	"go.uber.org/zap"

	"salesops-relay/internal/verification/domain"
)

// Handler receives the frames the relay acts on. *session.Machine implements it.
type Handler interface {
	Open(domain.NeedFrame)
	Confirm()
}

// Dispatch routes one parsed frame to h. Unknown frames are logged and dropped.
func Dispatch(h Handler, f domain.Frame, logger *zap.Logger) {
	switch fr := f.(type) {
	case domain.NeedFrame:
		h.Open(fr)
	case domain.SuccessFrame:
		h.Confirm()
	case domain.UnknownFrame:
		logger.Debug("channel: ignoring frame", zap.String("type", fr.Type))
	default:
		logger.Warn("channel: unhandled frame", zap.String("type", domain.TypeOf(f)))
	}
}

// HandlePayload parses a raw socket payload and dispatches it. Malformed payloads are logged and
// dropped.
func HandlePayload(h Handler, payload []byte, logger *zap.Logger) {
	f, err := domain.ParseFrame(payload)
	if err != nil {
		logger.Warn("channel: dropping malformed frame", zap.Error(err), zap.Int("bytes", len(payload)))
		return
	}
	Dispatch(h, f, logger)
}
