package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	productDomain "github.com/davicafu/productflow/internal/product/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const headerEventType = "eventType"

// messageWriter es la parte de *kafka.Writer que se usa.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventStream reenvía los eventos de analítica a un topic de Kafka.
// La key es el productId: todos los eventos de un producto caen en la misma partición.
type EventStream struct {
	writer messageWriter
	log    *zap.Logger
}

var _ productDomain.AnalyticsSink = (*EventStream)(nil)

func NewEventStream(brokers []string, topic string, log *zap.Logger) *EventStream {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newEventStream(writer, log)
}

func newEventStream(writer messageWriter, log *zap.Logger) *EventStream {
	return &EventStream{writer: writer, log: log}
}

func (s *EventStream) Record(ctx context.Context, evt productDomain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("%w: %w", productDomain.ErrSerialization, err)
	}

	base := evt.Base()
	msg := kafka.Message{
		Key:     []byte(base.ProductID.String()),
		Value:   data,
		Time:    base.OccurredAt(),
		Headers: []kafka.Header{{Key: headerEventType, Value: []byte(base.Type)}},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.log.Error("Error publishing to Kafka", zap.String("event_type", string(base.Type)), zap.Error(err))
		return err
	}

	s.log.Debug("Event published successfully", zap.String("event_type", string(base.Type)))
	return nil
}

func (s *EventStream) Close() error {
	return s.writer.Close()
}
