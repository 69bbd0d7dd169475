package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// ErrMalformedEvent se devuelve cuando un cuerpo de mensaje no es un evento de producto reconocible.
var ErrMalformedEvent = errors.New("malformed product event")

// EventMetadata asocia un tipo de evento con su struct concreto y su categoría por defecto.
type EventMetadata struct {
	Type     reflect.Type
	Category Category
}

var eventRegistry = NewEventRegistry()

func NewEventRegistry() map[EventType]EventMetadata {
	return map[EventType]EventMetadata{
		EventProductCreated: {
			Type:     reflect.TypeOf(ProductCreated{}),
			Category: CategoryAnalytics,
		},
		EventInventoryReduced: {
			Type:     reflect.TypeOf(InventoryReduced{}),
			Category: CategoryAnalytics,
		},
		EventInventoryIncreased: {
			Type:     reflect.TypeOf(InventoryIncreased{}),
			Category: CategoryAnalytics,
		},
		EventOutOfStock: {
			Type:     reflect.TypeOf(OutOfStock{}),
			Category: CategoryWarehouse,
		},
		EventBackInStock: {
			Type:     reflect.TypeOf(BackInStock{}),
			Category: CategoryDelayedNotification,
		},
		EventProductActivated: {
			Type:     reflect.TypeOf(ProductActivated{}),
			Category: CategoryAnalytics,
		},
		EventProductDeactivated: {
			Type:     reflect.TypeOf(ProductDeactivated{}),
			Category: CategoryAnalytics,
		},
		EventPriceUpdated: {
			Type:     reflect.TypeOf(PriceUpdated{}),
			Category: CategoryAnalytics,
		},
	}
}

// DispatchFor construye el Dispatch con la categoría registrada para el tipo del evento.
func DispatchFor(evt Event, warehouseID string) Dispatch {
	d := Dispatch{Category: eventRegistry[evt.EventType()].Category, Event: evt}
	if d.Category == CategoryWarehouse {
		d.WarehouseID = warehouseID
	}
	return d
}

// DecodeEvent lee el campo eventType y decodifica el cuerpo en la variante concreta.
func DecodeEvent(body []byte) (Event, error) {
	var head struct {
		Type EventType `json:"eventType"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	metadata, ok := eventRegistry[head.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown eventType %q", ErrMalformedEvent, head.Type)
	}

	// Nueva instancia del tipo concreto (ej: &OutOfStock{})
	ptr := reflect.New(metadata.Type)
	if err := json.Unmarshal(body, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	evt, ok := ptr.Elem().Interface().(Event)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a product event", ErrMalformedEvent, metadata.Type)
	}
	return evt, nil
}
