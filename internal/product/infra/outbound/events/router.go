package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/davicafu/productflow/internal/product/domain"
	"github.com/davicafu/productflow/internal/product/infra/routing"
	sharedBus "github.com/davicafu/productflow/internal/shared/infra/platform/bus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const contentTypeJSON = "application/json"

// Router implementa domain.EventRouter: categoría -> exchange + routing key, serializa y publica.
type Router struct {
	publisher sharedBus.Publisher
	table     routing.Table
	log       *zap.Logger
}

var _ domain.EventRouter = (*Router)(nil)

func NewRouter(publisher sharedBus.Publisher, table routing.Table, log *zap.Logger) *Router {
	return &Router{publisher: publisher, table: table, log: log}
}

func (r *Router) Publish(ctx context.Context, d domain.Dispatch) error {
	if d.Event == nil {
		return fmt.Errorf("%w: dispatch without event", domain.ErrInvalidRequest)
	}

	target, err := r.table.Resolve(d)
	if err != nil {
		return err
	}

	body, err := json.Marshal(d.Event)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrSerialization, d.Event.EventType(), err)
	}

	base := d.Event.Base()
	msg := sharedBus.Message{
		Body:        body,
		ContentType: contentTypeJSON,
		Type:        string(base.Type),
		MessageID:   uuid.NewString(),
		Timestamp:   base.OccurredAt(),
	}

	if err := r.publisher.Publish(ctx, target.Exchange, target.RoutingKey, msg); err != nil {
		r.log.Error("❌ Error publicando evento",
			zap.String("event_type", msg.Type),
			zap.String("exchange", target.Exchange),
			zap.String("routing_key", target.RoutingKey),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s -> %s: %w", domain.ErrEventPublish, msg.Type, target.Exchange, err)
	}

	r.log.Debug("📤 Evento publicado",
		zap.String("event_type", msg.Type),
		zap.String("product_id", base.ProductID.String()),
		zap.String("exchange", target.Exchange),
		zap.String("routing_key", target.RoutingKey),
	)
	return nil
}
