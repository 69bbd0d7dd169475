package messaging

import (
	"context"
	"fmt"
	"sync"

	sharedBus "github.com/davicafu/productflow/internal/shared/infra/platform/bus"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQBroker implementa sharedBus.Broker sobre una única conexión AMQP.
// Publica por un canal compartido protegido por mutex; cada Consume abre su propio canal.
type RabbitMQBroker struct {
	conn     *amqp.Connection
	prefetch int
	log      *zap.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel
}

var _ sharedBus.Broker = (*RabbitMQBroker)(nil)

func DialRabbitMQ(url string, prefetch int, log *zap.Logger) (*RabbitMQBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	return &RabbitMQBroker{conn: conn, prefetch: prefetch, log: log}, nil
}

// Declare crea (idempotente) exchanges, colas y bindings. Todo es duradero.
func (b *RabbitMQBroker) Declare(_ context.Context, topology sharedBus.Topology) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	for _, ex := range topology.Exchanges {
		if err := ch.ExchangeDeclare(ex.Name, string(ex.Kind), true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.Name, err)
		}
	}

	for _, q := range topology.Queues {
		if _, err := ch.QueueDeclare(q.Name, true, false, false, false, queueArgs(q)); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}
	}

	for _, bnd := range topology.Bindings {
		if err := ch.QueueBind(bnd.Queue, bnd.RoutingKey, bnd.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s -> %s (%s): %w", bnd.Exchange, bnd.Queue, bnd.RoutingKey, err)
		}
	}

	b.log.Info("🐇 Topología declarada",
		zap.Int("exchanges", len(topology.Exchanges)),
		zap.Int("queues", len(topology.Queues)),
		zap.Int("bindings", len(topology.Bindings)),
	)
	return nil
}

func queueArgs(q sharedBus.Queue) amqp.Table {
	args := amqp.Table{}
	if q.TTL > 0 {
		args["x-message-ttl"] = q.TTL.Milliseconds()
	}
	if q.DeadLetterExchange != "" {
		args["x-dead-letter-exchange"] = q.DeadLetterExchange
	}
	if q.DeadLetterRoutingKey != "" {
		args["x-dead-letter-routing-key"] = q.DeadLetterRoutingKey
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// Publish envía un mensaje persistente. Reabre el canal de publicación si el broker lo cerró.
func (b *RabbitMQBroker) Publish(ctx context.Context, exchange, routingKey string, msg sharedBus.Message) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if b.pubCh == nil || b.pubCh.IsClosed() {
		ch, err := b.conn.Channel()
		if err != nil {
			return fmt.Errorf("open publish channel: %w", err)
		}
		b.pubCh = ch
	}

	err := b.pubCh.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		Headers:      amqp.Table(msg.Headers),
		ContentType:  msg.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Timestamp:    msg.Timestamp,
		Type:         msg.Type,
		Body:         msg.Body,
	})
	if err != nil {
		return fmt.Errorf("amqp publish to %s (%s): %w", exchange, routingKey, err)
	}
	return nil
}

// Consume abre un canal propio con QoS, y lo cierra al salir.
func (b *RabbitMQBroker) Consume(ctx context.Context, queue string, handler sharedBus.Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	defer ch.Close()

	if b.prefetch > 0 {
		if err := ch.Qos(b.prefetch, 0, false); err != nil {
			return fmt.Errorf("qos: %w", err)
		}
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: queue %s", sharedBus.ErrConsumerClosed, queue)
			}
			b.settle(queue, d, handler(ctx, fromDelivery(d)))
		}
	}
}

func (b *RabbitMQBroker) settle(queue string, d amqp.Delivery, handlerErr error) {
	if handlerErr != nil {
		// Sin reencolar: si la cola tiene DLX el broker lo desvía allí.
		if err := d.Nack(false, false); err != nil {
			b.log.Warn("⚠️ Nack fallido", zap.String("queue", queue), zap.Error(err))
		}
		return
	}
	if err := d.Ack(false); err != nil {
		b.log.Warn("⚠️ Ack fallido", zap.String("queue", queue), zap.Error(err))
	}
}

func fromDelivery(d amqp.Delivery) sharedBus.Message {
	return sharedBus.Message{
		Body:        d.Body,
		ContentType: d.ContentType,
		Type:        d.Type,
		MessageID:   d.MessageId,
		Timestamp:   d.Timestamp,
		Headers:     map[string]interface{}(d.Headers),
		Exchange:    d.Exchange,
		RoutingKey:  d.RoutingKey,
	}
}

func (b *RabbitMQBroker) Close() error {
	b.pubMu.Lock()
	if b.pubCh != nil {
		_ = b.pubCh.Close()
	}
	b.pubMu.Unlock()
	return b.conn.Close()
}
