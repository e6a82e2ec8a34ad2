// Package ingest publishes marketplace lifecycle events to Kafka. Producers
// are fire-and-forget from the core's point of view: events go out after the
// owning transaction commits, and a publish failure is logged, never
// propagated.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	EventRequestCreated   = "request.created"
	EventBidSubmitted     = "bid.submitted"
	EventBidAccepted      = "bid.accepted"
	EventRequestCancelled = "request.cancelled"
	EventMatchCreated     = "match.created"
	EventProviderLocation = "provider.location"
)

// Event is the wire shape for every lifecycle record. Key is the request (or
// provider) ID so per-entity ordering survives partitioning.
type Event struct {
	Type    string            `json:"type"`
	Key     string            `json:"key"`
	ActorID string            `json:"actor_id,omitempty"`
	At      time.Time         `json:"at"`
	Data    map[string]string `json:"data,omitempty"`
}

type EventProducer struct {
	writer *kafka.Writer
}

func NewEventProducer(brokers []string, topic string) *EventProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &EventProducer{writer: w}
}

// Publish writes one event with a short internal timeout. Safe to call on a
// nil producer, which is how an unconfigured broker is wired.
func (p *EventProducer) Publish(e Event) error {
	if p == nil {
		return nil
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.Key), Value: b})
}

func (p *EventProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
