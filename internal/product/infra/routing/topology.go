package routing

import (
	"fmt"
	"time"

	"github.com/davicafu/productflow/internal/config"
	"github.com/davicafu/productflow/internal/product/domain"
	sharedBus "github.com/davicafu/productflow/internal/shared/infra/platform/bus"
)

// Nombres de colas y routing keys fijos del despliegue.
const (
	AnalyticsQueue        = "products.analytics.queue"
	DelayQueue            = "products.notification.delay.queue"
	UserNotificationQueue = "products.notification.user.queue"

	DelayRoutingKey = "notify.delay"
	UserRoutingKey  = "notify.user"
)

// WarehouseKey es a la vez routing key y nombre de cola de un almacén.
func WarehouseKey(warehouseID string) string {
	return fmt.Sprintf("products.warehouse.%s.queue", warehouseID)
}

// Target es el destino concreto en el broker para una categoría.
type Target struct {
	Exchange   string
	Kind       sharedBus.ExchangeKind
	RoutingKey string
}

// Table resuelve categorías a destinos y describe la topología que hay que declarar.
type Table struct {
	AnalyticsExchange        string
	WarehouseExchange        string
	NotificationTTLExchange  string
	NotificationUserExchange string
	WarehouseIDs             []string
	NotificationDelay        time.Duration
}

func NewTable(cfg *config.Config) Table {
	return Table{
		AnalyticsExchange:        cfg.AnalyticsExchange,
		WarehouseExchange:        cfg.WarehouseExchange,
		NotificationTTLExchange:  cfg.NotificationTTLExchange,
		NotificationUserExchange: cfg.NotificationUserExchange,
		WarehouseIDs:             cfg.WarehouseIDs,
		NotificationDelay:        cfg.NotificationDelay(),
	}
}

// Resolve traduce un Dispatch a su destino. El exchange de analítica es fanout: la routing key se ignora.
func (t Table) Resolve(d domain.Dispatch) (Target, error) {
	switch d.Category {
	case domain.CategoryAnalytics:
		return Target{Exchange: t.AnalyticsExchange, Kind: sharedBus.KindFanout}, nil
	case domain.CategoryWarehouse:
		if d.WarehouseID == "" {
			return Target{}, fmt.Errorf("%w: warehouse dispatch without warehouse id", domain.ErrInvalidRequest)
		}
		return Target{Exchange: t.WarehouseExchange, Kind: sharedBus.KindTopic, RoutingKey: WarehouseKey(d.WarehouseID)}, nil
	case domain.CategoryDelayedNotification:
		return Target{Exchange: t.NotificationTTLExchange, Kind: sharedBus.KindDirect, RoutingKey: DelayRoutingKey}, nil
	case domain.CategoryUserNotification:
		return Target{Exchange: t.NotificationUserExchange, Kind: sharedBus.KindDirect, RoutingKey: UserRoutingKey}, nil
	}
	return Target{}, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidRequest, d.Category)
}

// Topology devuelve exchanges, colas y bindings. La cola de retardo no tiene consumidores:
// al caducar, el broker reenvía al exchange de usuario con notify.user.
func (t Table) Topology() sharedBus.Topology {
	topo := sharedBus.Topology{
		Exchanges: []sharedBus.Exchange{
			{Name: t.AnalyticsExchange, Kind: sharedBus.KindFanout},
			{Name: t.WarehouseExchange, Kind: sharedBus.KindTopic},
			{Name: t.NotificationTTLExchange, Kind: sharedBus.KindDirect},
			{Name: t.NotificationUserExchange, Kind: sharedBus.KindDirect},
		},
		Queues: []sharedBus.Queue{
			{Name: AnalyticsQueue},
			{
				Name:                 DelayQueue,
				TTL:                  t.NotificationDelay,
				DeadLetterExchange:   t.NotificationUserExchange,
				DeadLetterRoutingKey: UserRoutingKey,
			},
			{Name: UserNotificationQueue},
		},
		Bindings: []sharedBus.Binding{
			{Queue: AnalyticsQueue, Exchange: t.AnalyticsExchange},
			{Queue: DelayQueue, Exchange: t.NotificationTTLExchange, RoutingKey: DelayRoutingKey},
			{Queue: UserNotificationQueue, Exchange: t.NotificationUserExchange, RoutingKey: UserRoutingKey},
		},
	}

	for _, id := range t.WarehouseIDs {
		key := WarehouseKey(id)
		topo.Queues = append(topo.Queues, sharedBus.Queue{Name: key})
		topo.Bindings = append(topo.Bindings, sharedBus.Binding{Queue: key, Exchange: t.WarehouseExchange, RoutingKey: key})
	}
	return topo
}
