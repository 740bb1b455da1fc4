// Package producer publishes relay lifecycle events to a message broker.
package producer

import (
	"context"

	"salesops-relay/internal/telemetry/domain"
)

// Producer publishes telemetry events. It is a telemetry.EventEmitter that also owns a
// connection, so the relay closes it on shutdown after draining pending emits.
type Producer interface {
	Emit(ctx context.Context, event *domain.Event) error
	Close() error
}

var _ Producer = (*KafkaProducer)(nil)
