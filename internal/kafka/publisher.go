package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"kassa-service/internal/message"
)

var (
	publishSuccessCounter = metrics.GetOrCreateCounter(`kassa_status_events_total{result="success"}`)
	publishErrorCounter   = metrics.GetOrCreateCounter(`kassa_status_events_total{result="error"}`)
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher sends payment status changes keyed by payment id, so events of one
// payment stay ordered within a partition.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

func NewPublisher(writer *kafka.Writer, logger *slog.Logger) *Publisher {
	return &Publisher{writer: writer, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, event message.PaymentStatusChanged) error {
	value, err := json.Marshal(event)
	if err != nil {
		publishErrorCounter.Inc()
		return errors.Wrap(err, "encode status event")
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.PaymentID),
		Value: value,
	})
	if err != nil {
		publishErrorCounter.Inc()
		return errors.Wrapf(err, "publish status event for payment %s", event.PaymentID)
	}

	publishSuccessCounter.Inc()
	p.logger.InfoContext(ctx, "Status event published", "status", event.Status)
	return nil
}

func (p *Publisher) Close() error {
	if c, ok := p.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
