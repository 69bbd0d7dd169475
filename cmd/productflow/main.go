package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davicafu/productflow/internal/config"
	"github.com/davicafu/productflow/internal/infra/messaging"
	productApp "github.com/davicafu/productflow/internal/product/application"
	productEvents "github.com/davicafu/productflow/internal/product/infra/inbound/events"
	productHttp "github.com/davicafu/productflow/internal/product/infra/inbound/http"
	"github.com/davicafu/productflow/internal/product/infra/outbound/db/migrations"
	outboundEvents "github.com/davicafu/productflow/internal/product/infra/outbound/events"
	"github.com/davicafu/productflow/internal/product/infra/outbound/notification"
	"github.com/davicafu/productflow/internal/product/infra/routing"
	sharedBus "github.com/davicafu/productflow/internal/shared/infra/platform/bus"
	"github.com/davicafu/productflow/pkg/logger"
	"github.com/davicafu/productflow/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "productflow",
		Usage: "product inventory engine and event fan-out",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "with-listeners",
						Usage: "also run the queue listeners in this process (always on with the in-memory broker)",
					},
				},
				Action: serve,
			},
			{
				Name:   "listen",
				Usage:  "run the analytics, warehouse and user-notification listeners",
				Action: listen,
			},
			{
				Name:   "migrate",
				Usage:  "apply pending schema migrations for the configured store",
				Action: migrate,
			},
			{
				Name:   "topology",
				Usage:  "declare exchanges, queues and bindings on the broker",
				Action: topology,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Logger().Error("❌ productflow terminated", zap.Error(err))
		fmt.Fprintln(os.Stderr, "productflow:", err)
		os.Exit(1)
	}
}

// bootstrap carga la configuración e inicializa el logger global.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger.Init(cfg.LogLevel)
	return cfg, logger.Logger(), nil
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

// ---------------- serve ----------------

func serve(c *cli.Context) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signalContext(c)
	defer stop()

	var closers cleanup
	defer closers.run()

	store, uow, err := openStore(cfg, log, &closers)
	if err != nil {
		return err
	}
	cache := openCache(ctx, cfg, log, &closers)

	table := routing.NewTable(cfg)
	broker, err := openBroker(ctx, cfg, table, log, &closers)
	if err != nil {
		return err
	}

	router := outboundEvents.NewRouter(broker, table, log)
	service := productApp.NewProductService(store, uow, router, cache, productApp.ServiceConfig{
		DefaultWarehouseID: cfg.DefaultWarehouseID,
		CacheTTL:           cfg.CacheTTL,
	}, log)

	engine := gin.New()
	engine.Use(gin.Recovery(), utils.RequestLogger(log))
	productHttp.RegisterProductRoutes(engine, productHttp.NewProductHandler(service, log))
	server := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: engine}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("🚀 Server running", zap.String("url", "http://localhost:"+cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("🛑 Shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	})

	if c.Bool("with-listeners") || cfg.AMQPURL == "" {
		listener, err := buildListener(gctx, cfg, broker, log, &closers)
		if err != nil {
			return err
		}
		g.Go(func() error {
			listener.Run(gctx)
			return nil
		})
	}

	return g.Wait()
}

// ---------------- listen ----------------

func listen(c *cli.Context) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.AMQPURL == "" {
		return errors.New("listen requires AMQP_URL: the in-memory broker only delivers inside `serve`")
	}

	ctx, stop := signalContext(c)
	defer stop()

	var closers cleanup
	defer closers.run()

	broker, err := openBroker(ctx, cfg, routing.NewTable(cfg), log, &closers)
	if err != nil {
		return err
	}
	listener, err := buildListener(ctx, cfg, broker, log, &closers)
	if err != nil {
		return err
	}

	listener.Run(ctx)
	return nil
}

func buildListener(ctx context.Context, cfg *config.Config, consumer sharedBus.Consumer, log *zap.Logger, closers *cleanup) (*messaging.Listener, error) {
	sinks, err := openAnalyticsSinks(ctx, cfg, log, closers)
	if err != nil {
		return nil, err
	}
	replenishment, err := openReplenishmentStore(ctx, cfg, log, closers)
	if err != nil {
		return nil, err
	}
	notifier := notification.NewClient(cfg.NotificationBaseURL, cfg.NotificationTimeout, log)

	productConsumer := productEvents.NewProductConsumer(productEvents.ConsumerConfig{
		Recipient:      cfg.NotificationRecipient,
		HandlerTimeout: cfg.HandlerTimeout,
	}, sinks, replenishment, notifier, log)

	listener := messaging.NewListener(consumer, cfg.ListenerRetryDelay, log)
	productConsumer.Register(listener, cfg.WarehouseIDs)
	log.Info("🎧 Listeners registrados", zap.Strings("queues", listener.Queues()))
	return listener, nil
}

// ---------------- migrate / topology ----------------

func migrate(_ *cli.Context) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return migrations.Up("postgres", cfg.PostgresDSN, log)
	case config.DriverSQLite:
		return migrations.Up("sqlite", cfg.SQLitePath, log)
	default:
		log.Info("Nada que migrar con el store en memoria")
		return nil
	}
}

func topology(c *cli.Context) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.AMQPURL == "" {
		return errors.New("topology requires AMQP_URL")
	}

	var closers cleanup
	defer closers.run()

	_, err = openBroker(c.Context, cfg, routing.NewTable(cfg), log, &closers)
	return err
}
