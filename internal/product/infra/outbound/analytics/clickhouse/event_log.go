package clickhouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	productDomain "github.com/davicafu/productflow/internal/product/domain"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
)

// EventLog implementa productDomain.AnalyticsSink sobre ClickHouse.
type EventLog struct {
	db *sql.DB
}

var _ productDomain.AnalyticsSink = (*EventLog)(nil)

// NewEventLog abre la conexión y comprueba que ClickHouse responde.
func NewEventLog(addr, dbName string) (*EventLog, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	return &EventLog{db: conn}, nil
}

func (l *EventLog) Close() error {
	return l.db.Close()
}

// eventRow es la fila plana que se guarda por evento.
type eventRow struct {
	ProductID         uuid.UUID
	SKU               string
	EventType         string
	Status            string
	AvailableQuantity int64
	QuantityDelta     int64
	NewPrice          string
	Payload           string
	EventTime         time.Time
}

// toRow aplana cualquier variante. QuantityDelta es negativo en reducciones.
func toRow(evt productDomain.Event) (eventRow, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return eventRow{}, fmt.Errorf("%w: %w", productDomain.ErrSerialization, err)
	}

	base := evt.Base()
	row := eventRow{
		ProductID:         base.ProductID,
		SKU:               base.SKU,
		EventType:         string(base.Type),
		Status:            string(base.Status),
		AvailableQuantity: int64(base.AvailableQuantity),
		Payload:           string(payload),
		EventTime:         base.OccurredAt(),
	}

	switch e := evt.(type) {
	case productDomain.InventoryReduced:
		row.QuantityDelta = -int64(e.QuantityReduced)
	case productDomain.OutOfStock:
		row.QuantityDelta = -int64(e.QuantityReduced)
	case productDomain.InventoryIncreased:
		row.QuantityDelta = int64(e.QuantityAdded)
	case productDomain.BackInStock:
		row.QuantityDelta = int64(e.QuantityAdded)
	case productDomain.PriceUpdated:
		row.NewPrice = e.NewPrice.String()
	}
	return row, nil
}

func (l *EventLog) Record(ctx context.Context, evt productDomain.Event) error {
	return l.LogBatch(ctx, []productDomain.Event{evt})
}

// LogBatch inserta un lote de eventos. ClickHouse funciona mejor con inserciones en lotes.
func (l *EventLog) LogBatch(ctx context.Context, events []productDomain.Event) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO product_events_log
		(product_id, sku, event_type, status, available_quantity, quantity_delta, new_price, payload, event_time)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, evt := range events {
		row, err := toRow(evt)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			row.ProductID,
			row.SKU,
			row.EventType,
			row.Status,
			row.AvailableQuantity,
			row.QuantityDelta,
			row.NewPrice,
			row.Payload,
			row.EventTime,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to exec statement for product %s: %w", row.ProductID, err)
		}
	}

	return tx.Commit()
}

// InitSchema crea la tabla si no existe. Particionada por mes y ordenada por producto.
func (l *EventLog) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS product_events_log (
			product_id         UUID,
			sku                String,
			event_type         LowCardinality(String),
			status             LowCardinality(String),
			available_quantity Int64,
			quantity_delta     Int64,
			new_price          String,
			payload            String,
			event_time         DateTime64(3)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(event_time)
		ORDER BY (product_id, event_time);
	`
	_, err := l.db.ExecContext(ctx, query)
	return err
}
