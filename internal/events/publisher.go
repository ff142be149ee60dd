// Package events publishes domain lifecycle events to Kafka. Delivery is
// best effort: a broker problem is logged by the caller, never surfaced to
// the user operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	RideCreated      = "ride.created"
	RideCancelled    = "ride.cancelled"
	RideCompleted    = "ride.completed"
	RequestCreated   = "request.created"
	RequestAccepted  = "request.accepted"
	RequestRejected  = "request.rejected"
	RequestCancelled = "request.cancelled"
	MessageSent      = "message.sent"
	ReportFiled      = "report.filed"
)

type Event struct {
	Type      string    `json:"type"`
	RideID    string    `json:"ride_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	At        time.Time `json:"at"`
}

type Publisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Publisher{writer: w, logger: logger}
}

// Publish writes one event keyed by ride id so per-ride ordering survives
// partitioning. A nil Publisher is a disabled one.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if p == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ev)
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RideID), Value: b}); err != nil {
		p.logger.Warn("event publish failed", "type", ev.Type, "error", err)
	}
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
