package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-rental/internal/config"
	"ms-rental/internal/models"
)

type MessagePublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// EventPublisher streams reservation lifecycle events, keyed by reservation id
// so every event for one reservation lands on the same partition.
type EventPublisher struct {
	producer MessagePublisher
	topics   config.TopicConfig
}

func NewEventPublisher(producer MessagePublisher, topics config.TopicConfig) *EventPublisher {
	return &EventPublisher{producer: producer, topics: topics}
}

func (p *EventPublisher) topicFor(t models.ReservationEventType) (string, error) {
	switch t {
	case models.EventReservationHeld:
		return p.topics.ReservationHeld, nil
	case models.EventReservationConfirmed:
		return p.topics.ReservationConfirmed, nil
	case models.EventReservationCanceled:
		return p.topics.ReservationCanceled, nil
	default:
		return "", fmt.Errorf("no topic for event type %q", t)
	}
}

func (p *EventPublisher) PublishReservationEvent(ctx context.Context, ev models.ReservationEvent) error {
	topic, err := p.topicFor(ev.Type)
	if err != nil {
		return err
	}
	msgBytes, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, topic, ev.ReservationID, msgBytes)
}
