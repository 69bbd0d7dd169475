package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/productflow/internal/config"
	"github.com/davicafu/productflow/internal/product/infra/outbound/db/memory"
	"github.com/davicafu/productflow/internal/product/infra/routing"
)

func TestCleanup_RunsInReverseOrder(t *testing.T) {
	var order []int
	var c cleanup
	c.add(func() { order = append(order, 1) })
	c.add(func() { order = append(order, 2) })
	c.add(func() { order = append(order, 3) })

	c.run()

	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestWiring_InMemoryDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	cfg.NotificationTimeout = time.Second

	var closers cleanup
	defer closers.run()
	ctx := context.Background()

	store, uow, err := openStore(cfg, zap.NewNop(), &closers)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)
	assert.Same(t, store, uow)

	broker, err := openBroker(ctx, cfg, routing.NewTable(cfg), zap.NewNop(), &closers)
	require.NoError(t, err)

	listener, err := buildListener(ctx, cfg, broker, zap.NewNop(), &closers)
	require.NoError(t, err)
	assert.Equal(t, []string{
		routing.AnalyticsQueue,
		routing.WarehouseKey("BLRA"),
		routing.UserNotificationQueue,
	}, listener.Queues())
}
