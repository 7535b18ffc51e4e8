package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samijaber1/aegis-relay/internal/metrics"
)

// Store is the slice of persistence the publisher needs.
type Store interface {
	InsertEvent(ctx context.Context, ev *Event) error
}

// Publisher wraps occurrences into versioned envelopes and persists them.
// Persistence completes before Publish returns, so a caller that crashes
// after publishing cannot lose the event; delivery is a separate, resumable
// phase owned by the webhook worker.
type Publisher struct {
	store  Store
	source string
	logger *zap.SugaredLogger
}

// NewPublisher creates a publisher stamping events with the given source.
func NewPublisher(store Store, source string, logger *zap.SugaredLogger) *Publisher {
	return &Publisher{
		store:  store,
		source: source,
		logger: logger,
	}
}

// Publish persists an event of the given type and returns its id. The data
// payload is serialized once here; it is immutable from this point on.
func (p *Publisher) Publish(ctx context.Context, eventType string, data interface{}) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal event data: %w", err)
	}

	version := Version(eventType)
	ev := &Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Version:    version,
		OccurredAt: time.Now().UTC(),
		Data:       payload,
		Meta: Meta{
			Source: p.source,
			Schema: fmt.Sprintf("%s/%d", eventType, version),
		},
	}

	if err := p.store.InsertEvent(ctx, ev); err != nil {
		return "", fmt.Errorf("persist event %s: %w", eventType, err)
	}

	metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
	p.logger.Infow("Published event", "id", ev.ID, "type", ev.Type)
	return ev.ID, nil
}
