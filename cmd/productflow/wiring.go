package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/davicafu/productflow/internal/config"
	"github.com/davicafu/productflow/internal/infra/messaging"
	productDomain "github.com/davicafu/productflow/internal/product/domain"
	chSink "github.com/davicafu/productflow/internal/product/infra/outbound/analytics/clickhouse"
	kafkaSink "github.com/davicafu/productflow/internal/product/infra/outbound/analytics/kafka"
	memoryStore "github.com/davicafu/productflow/internal/product/infra/outbound/db/memory"
	"github.com/davicafu/productflow/internal/product/infra/outbound/db/migrations"
	postgresStore "github.com/davicafu/productflow/internal/product/infra/outbound/db/postgre"
	sqliteStore "github.com/davicafu/productflow/internal/product/infra/outbound/db/sqlite"
	warehouseMemory "github.com/davicafu/productflow/internal/product/infra/outbound/warehouse/memory"
	warehouseMongo "github.com/davicafu/productflow/internal/product/infra/outbound/warehouse/mongodb"
	"github.com/davicafu/productflow/internal/product/infra/routing"
	sharedBus "github.com/davicafu/productflow/internal/shared/infra/platform/bus"
	sharedCache "github.com/davicafu/productflow/internal/shared/infra/platform/cache"
	sharedUtils "github.com/davicafu/productflow/internal/shared/infra/utils"
)

// cleanup acumula cierres en orden inverso de apertura.
type cleanup []func()

func (c *cleanup) add(fn func()) { *c = append(*c, fn) }

func (c cleanup) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// ---------------- Store ----------------

func openStore(cfg *config.Config, log *zap.Logger, closers *cleanup) (productDomain.ProductStore, productDomain.UnitOfWork, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if err := migrations.Up("postgres", cfg.PostgresDSN, log); err != nil {
			return nil, nil, err
		}
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open Postgres: %w", err)
		}
		closers.add(func() { _ = db.Close() })
		log.Info("🐘 Product store: Postgres")
		return postgresStore.NewProductRepoPostgres(db), postgresStore.NewUnitOfWorkPostgres(db), nil

	case config.DriverSQLite:
		if err := migrations.Up("sqlite", cfg.SQLitePath, log); err != nil {
			return nil, nil, err
		}
		db, err := sqliteStore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open SQLite: %w", err)
		}
		closers.add(func() { _ = db.Close() })
		log.Info("🪶 Product store: SQLite", zap.String("path", cfg.SQLitePath))
		return sqliteStore.NewProductRepoSQLite(db), sqliteStore.NewUnitOfWorkSQLite(db), nil

	default:
		log.Warn("⚠️ Product store en memoria: los datos se pierden al reiniciar")
		store := memoryStore.NewStore()
		return store, store, nil
	}
}

// ---------------- Cache ----------------

func openCache(ctx context.Context, cfg *config.Config, log *zap.Logger, closers *cleanup) sharedCache.Cache {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, cache en memoria", zap.Error(err))
		_ = rdb.Close()
		mem := sharedCache.NewInMemoryCache(cfg.CacheTTL, 3*cfg.CacheTTL)
		closers.add(mem.Stop)
		return mem
	}
	closers.add(func() { _ = rdb.Close() })
	log.Info("✅ Redis conectado, cache habilitado")
	return sharedCache.NewRedisCache(rdb, cfg.CacheTTL)
}

// ---------------- Broker ----------------

// openBroker conecta con RabbitMQ y declara la topología. Sin AMQP_URL usa el broker en memoria,
// que solo entrega dentro del mismo proceso.
func openBroker(ctx context.Context, cfg *config.Config, table routing.Table, log *zap.Logger, closers *cleanup) (sharedBus.Broker, error) {
	var broker sharedBus.Broker
	if cfg.AMQPURL == "" {
		log.Info("⚡️ Usando broker en memoria")
		broker = messaging.NewInMemoryBroker(log)
	} else {
		err := sharedUtils.Retry(ctx, cfg.StartupAttempts, cfg.StartupRetryDelay, func() error {
			b, err := messaging.DialRabbitMQ(cfg.AMQPURL, cfg.ConsumerPrefetch, log)
			if err != nil {
				log.Warn("⏳ RabbitMQ no disponible", zap.Error(err))
				return err
			}
			broker = b
			return nil
		})
		if err != nil {
			return nil, err
		}
		log.Info("🐇 Conectado a RabbitMQ")
	}
	closers.add(func() { _ = broker.Close() })

	if err := messaging.DeclareTopology(ctx, broker, table.Topology(), cfg.StartupAttempts, cfg.StartupRetryDelay, log); err != nil {
		return nil, err
	}
	return broker, nil
}

// ---------------- Consumidores ----------------

func openAnalyticsSinks(ctx context.Context, cfg *config.Config, log *zap.Logger, closers *cleanup) ([]productDomain.AnalyticsSink, error) {
	var sinks []productDomain.AnalyticsSink

	if cfg.ClickHouseAddr != "" {
		eventLog, err := chSink.NewEventLog(cfg.ClickHouseAddr, cfg.ClickHouseDatabase)
		if err != nil {
			return nil, err
		}
		closers.add(func() { _ = eventLog.Close() })
		if err := eventLog.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
		log.Info("📊 Analytics sink: ClickHouse", zap.String("addr", cfg.ClickHouseAddr))
		sinks = append(sinks, eventLog)
	}

	if len(cfg.KafkaBrokers) > 0 {
		stream := kafkaSink.NewEventStream(cfg.KafkaBrokers, cfg.KafkaAnalyticsTopic, log)
		closers.add(func() { _ = stream.Close() })
		log.Info("📊 Analytics sink: Kafka", zap.String("topic", cfg.KafkaAnalyticsTopic))
		sinks = append(sinks, stream)
	}

	if len(sinks) == 0 {
		log.Info("📊 Sin sinks de analítica: los eventos solo se registran en el log")
	}
	return sinks, nil
}

func openReplenishmentStore(ctx context.Context, cfg *config.Config, log *zap.Logger, closers *cleanup) (productDomain.ReplenishmentStore, error) {
	if cfg.MongoURI == "" {
		log.Info("🏭 Reposiciones en memoria")
		return warehouseMemory.NewReplenishmentStore(), nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	closers.add(func() { _ = client.Disconnect(context.Background()) })

	repo, err := warehouseMongo.NewReplenishmentRepoMongoDB(ctx, client, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	log.Info("🏭 Reposiciones en MongoDB", zap.String("db", cfg.MongoDatabase))
	return repo, nil
}
