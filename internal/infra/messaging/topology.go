package messaging

import (
	"context"
	"time"

	sharedBus "github.com/davicafu/productflow/internal/shared/infra/platform/bus"
	sharedUtils "github.com/davicafu/productflow/internal/shared/infra/utils"
	"go.uber.org/zap"
)

// DeclareTopology declara exchanges, colas y bindings. Reintenta mientras el broker arranca.
func DeclareTopology(ctx context.Context, d sharedBus.Declarer, topo sharedBus.Topology, attempts int, delay time.Duration, log *zap.Logger) error {
	err := sharedUtils.Retry(ctx, attempts, delay, func() error {
		if err := d.Declare(ctx, topo); err != nil {
			log.Warn("⏳ Topology not declared yet", zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info("🧭 Topology declared",
		zap.Int("exchanges", len(topo.Exchanges)),
		zap.Int("queues", len(topo.Queues)),
		zap.Int("bindings", len(topo.Bindings)),
	)
	return nil
}
