// Package kafka публикует события уведомлений в Kafka топик.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
)

// MessageWriter - то, что нужно публикатору от *kafka.Writer
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ domain.Notifier = (*Publisher)(nil)

type Publisher struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewWriter собирает *kafka.Writer. Ключ сообщения - id подписчика,
// поэтому Hash балансер держит события одного подписчика в одной партиции.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

func NewPublisher(writer MessageWriter, logger *slog.Logger) *Publisher {
	return &Publisher{
		writer: writer,
		logger: logger.With(slog.String("component", "kafka_publisher")),
	}
}

type eventMessage struct {
	domain.NotificationEvent
	Direction string    `json:"direction"`
	EmittedAt time.Time `json:"emitted_at"`
}

func (p *Publisher) Notify(ctx context.Context, event domain.NotificationEvent) error {
	direction := "down"
	if event.IsRise() {
		direction = "up"
	}

	payload, err := json.Marshal(eventMessage{
		NotificationEvent: event,
		Direction:         direction,
		EmittedAt:         time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.SubscriberID, 10)),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event for %s: %w", event.Symbol, err)
	}

	p.logger.Debug("event published",
		slog.Int64("subscriber_id", event.SubscriberID),
		slog.String("symbol", event.Symbol),
	)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
