package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------- Analítica ----------

// AnalyticsSink recibe cada evento que llega a la cola de analítica.
type AnalyticsSink interface {
	Record(ctx context.Context, evt Event) error
}

// ---------- Reposición de almacén ----------

type ReplenishmentStatus string

const ReplenishmentPending ReplenishmentStatus = "PENDING"

// ReplenishmentRequest es la petición que un almacén registra al recibir OUT_OF_STOCK.
// EventKey identifica el evento origen: reentregas del mismo mensaje no duplican peticiones.
type ReplenishmentRequest struct {
	EventKey        string
	WarehouseID     string
	ProductID       uuid.UUID
	SKU             string
	QuantityReduced int
	Status          ReplenishmentStatus
	RequestedAt     time.Time
}

type ReplenishmentStore interface {
	// Upsert es idempotente por EventKey.
	Upsert(ctx context.Context, r ReplenishmentRequest) error
	ListPending(ctx context.Context, warehouseID string) ([]ReplenishmentRequest, error)
}

// ---------- Notificaciones ----------

// NotificationType debe coincidir exactamente con el enumerado del servicio de notificaciones.
type NotificationType string

const (
	NotificationOrderCreated       NotificationType = "ORDER_CREATED"
	NotificationOrderShipped       NotificationType = "ORDER_SHIPPED"
	NotificationOrderCancelled     NotificationType = "ORDER_CANCELLED"
	NotificationPaymentFailed      NotificationType = "PAYMENT_FAILED"
	NotificationPaymentSuccess     NotificationType = "PAYMENT_SUCCESS"
	NotificationProductBackInStock NotificationType = "PRODUCT_BACK_IN_STOCK"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationOrderCreated, NotificationOrderShipped, NotificationOrderCancelled,
		NotificationPaymentFailed, NotificationPaymentSuccess, NotificationProductBackInStock:
		return true
	}
	return false
}

const ChannelInApp = "IN_APP"

type Notification struct {
	UserID      string
	Type        NotificationType
	Content     string
	Channel     string
	ReferenceID uuid.UUID
}

// Notifier entrega una notificación al usuario.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}
