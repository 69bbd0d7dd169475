package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/productflow/internal/infra/messaging"
	productDomain "github.com/davicafu/productflow/internal/product/domain"
	"github.com/davicafu/productflow/internal/product/infra/routing"
	sharedBus "github.com/davicafu/productflow/internal/shared/infra/platform/bus"
	sharedUtils "github.com/davicafu/productflow/internal/shared/infra/utils"
)

// ConsumerConfig agrupa los parámetros de los consumidores.
type ConsumerConfig struct {
	// Destinatario de las notificaciones mientras el evento no lleve userId.
	Recipient      string
	HandlerTimeout time.Duration
}

// ProductConsumer procesa las colas aguas abajo del router: analítica, almacenes y notificaciones.
// Un cuerpo que no es un evento de producto se registra y se descarta (ack).
// Un fallo de un colaborador devuelve error: el broker hace nack sin reencolar.
type ProductConsumer struct {
	cfg           ConsumerConfig
	sinks         []productDomain.AnalyticsSink
	replenishment productDomain.ReplenishmentStore
	notifier      productDomain.Notifier
	log           *zap.Logger
}

func NewProductConsumer(
	cfg ConsumerConfig,
	sinks []productDomain.AnalyticsSink,
	replenishment productDomain.ReplenishmentStore,
	notifier productDomain.Notifier,
	log *zap.Logger,
) *ProductConsumer {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 5 * time.Second
	}
	return &ProductConsumer{
		cfg:           cfg,
		sinks:         sinks,
		replenishment: replenishment,
		notifier:      notifier,
		log:           log,
	}
}

// Register da de alta una suscripción por cola: analítica, una por almacén y notificación de usuario.
func (c *ProductConsumer) Register(l *messaging.Listener, warehouseIDs []string) {
	l.Register(routing.AnalyticsQueue, c.HandleAnalytics)
	for _, id := range warehouseIDs {
		l.Register(routing.WarehouseKey(id), c.HandleWarehouse(id))
	}
	l.Register(routing.UserNotificationQueue, c.HandleUserNotification)
}

// ---------------- Analítica ----------------

func (c *ProductConsumer) HandleAnalytics(ctx context.Context, msg sharedBus.Message) error {
	evt, ok := c.decode("📊 [ANALYTICS]", msg)
	if !ok {
		return nil
	}

	return c.withTimeout(ctx, evt, "📊 [ANALYTICS] Event recorded", func(ctx context.Context) error {
		var errs []error
		for _, sink := range c.sinks {
			if err := sink.Record(ctx, evt); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// ---------------- Almacén ----------------

// HandleWarehouse devuelve el handler de la cola de un almacén. Solo OUT_OF_STOCK genera reposición.
func (c *ProductConsumer) HandleWarehouse(warehouseID string) sharedBus.Handler {
	return func(ctx context.Context, msg sharedBus.Message) error {
		evt, ok := c.decode("🏭 [WAREHOUSE]", msg)
		if !ok {
			return nil
		}

		oos, isOutOfStock := evt.(productDomain.OutOfStock)
		if !isOutOfStock {
			c.log.Info("🏭 [WAREHOUSE] Event ignored", zap.String("warehouse_id", warehouseID), zap.String("event_type", string(evt.EventType())))
			return nil
		}

		req := productDomain.ReplenishmentRequest{
			EventKey:        eventKey(msg, evt),
			WarehouseID:     warehouseID,
			ProductID:       oos.ProductID,
			SKU:             oos.SKU,
			QuantityReduced: oos.QuantityReduced,
			Status:          productDomain.ReplenishmentPending,
			RequestedAt:     oos.OccurredAt(),
		}
		return c.withTimeout(ctx, evt, "🏭 [WAREHOUSE] Replenishment requested", func(ctx context.Context) error {
			return c.replenishment.Upsert(ctx, req)
		})
	}
}

// ---------------- Notificación de usuario ----------------

// HandleUserNotification recibe lo que la cola de retardo reenvía al caducar el TTL.
func (c *ProductConsumer) HandleUserNotification(ctx context.Context, msg sharedBus.Message) error {
	evt, ok := c.decode("🔔 [USER-NOTIFICATION]", msg)
	if !ok {
		return nil
	}

	back, isBackInStock := evt.(productDomain.BackInStock)
	if !isBackInStock {
		c.log.Warn("🔔 [USER-NOTIFICATION] Unexpected event type", zap.String("event_type", string(evt.EventType())))
		return nil
	}

	n := productDomain.Notification{
		UserID:      c.cfg.Recipient,
		Type:        productDomain.NotificationProductBackInStock,
		Content:     fmt.Sprintf("Product %s is back in stock (%d available).", back.SKU, back.AvailableQuantity),
		Channel:     productDomain.ChannelInApp,
		ReferenceID: back.ProductID,
	}
	return c.withTimeout(ctx, evt, "🔔 [USER-NOTIFICATION] Notification dispatched", func(ctx context.Context) error {
		return c.notifier.Send(ctx, n)
	})
}

// ---------------- Soporte ----------------

func (c *ProductConsumer) decode(prefix string, msg sharedBus.Message) (productDomain.Event, bool) {
	evt, err := productDomain.DecodeEvent(msg.Body)
	if err != nil {
		c.log.Warn(prefix+" Raw message dropped",
			zap.String("message_id", msg.MessageID),
			zap.ByteString("body", msg.Body),
			zap.Error(err),
		)
		return nil, false
	}
	c.log.Info(prefix+" Event received",
		zap.String("event_type", string(evt.EventType())),
		zap.String("product_id", evt.Base().ProductID.String()),
		zap.String("sku", evt.Base().SKU),
	)
	return evt, true
}

// eventKey identifica el evento para que una reentrega no duplique efectos.
func eventKey(msg sharedBus.Message, evt productDomain.Event) string {
	base := evt.Base()
	derived := fmt.Sprintf("%s:%s:%d", base.ProductID, base.Type, base.Timestamp)
	return sharedUtils.Ternary(msg.MessageID != "", msg.MessageID, derived)
}

// withTimeout ejecuta la acción con un contexto limitado y registra el resultado.
func (c *ProductConsumer) withTimeout(ctx context.Context, evt productDomain.Event, successMsg string, action func(ctx context.Context) error) error {
	ctxAction, cancel := context.WithTimeout(ctx, c.cfg.HandlerTimeout)
	defer cancel()

	base := evt.Base()
	if err := action(ctxAction); err != nil {
		c.log.Warn("Failed to process product event",
			zap.String("event_type", string(base.Type)),
			zap.String("product_id", base.ProductID.String()),
			zap.Error(err),
		)
		return err
	}
	c.log.Info(successMsg,
		zap.String("event_type", string(base.Type)),
		zap.String("product_id", base.ProductID.String()),
	)
	return nil
}
