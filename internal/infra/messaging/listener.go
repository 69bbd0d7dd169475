package messaging

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	sharedBus "github.com/davicafu/productflow/internal/shared/infra/platform/bus"
	"go.uber.org/zap"
)

type registration struct {
	queue   string
	handler sharedBus.Handler
}

// Listener ejecuta una suscripción independiente por cola registrada.
// Si el broker cierra una suscripción, se reabre tras retryDelay; nunca afecta a las demás.
type Listener struct {
	consumer      sharedBus.Consumer
	registrations []registration
	retryDelay    time.Duration
	log           *zap.Logger
}

func NewListener(consumer sharedBus.Consumer, retryDelay time.Duration, log *zap.Logger) *Listener {
	return &Listener{consumer: consumer, retryDelay: retryDelay, log: log}
}

// Register añade un handler para una cola. Debe llamarse antes de Run.
func (l *Listener) Register(queue string, handler sharedBus.Handler) {
	l.registrations = append(l.registrations, registration{queue: queue, handler: handler})
}

// Queues devuelve las colas registradas, en orden de registro.
func (l *Listener) Queues() []string {
	queues := make([]string, len(l.registrations))
	for i, r := range l.registrations {
		queues[i] = r.queue
	}
	return queues
}

// Run bloquea hasta que ctx se cancela y todas las suscripciones han terminado.
func (l *Listener) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range l.registrations {
		wg.Add(1)
		go func(r registration) {
			defer wg.Done()
			l.serve(ctx, r)
		}(r)
	}
	wg.Wait()
	l.log.Info("🛑 Listeners detenidos")
}

func (l *Listener) serve(ctx context.Context, r registration) {
	l.log.Info("🎧 Escuchando cola", zap.String("queue", r.queue))
	for {
		err := l.consumer.Consume(ctx, r.queue, l.safe(r))
		if ctx.Err() != nil {
			return
		}
		l.log.Warn("⚠️ Suscripción interrumpida, reintentando",
			zap.String("queue", r.queue),
			zap.Duration("retry_in", l.retryDelay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.retryDelay):
		}
	}
}

// safe envuelve el handler: un panic se convierte en error (mensaje descartado), no tumba la suscripción.
func (l *Listener) safe(r registration) sharedBus.Handler {
	return func(ctx context.Context, msg sharedBus.Message) (err error) {
		defer func() {
			if p := recover(); p != nil {
				l.log.Error("💥 Panic en handler",
					zap.String("queue", r.queue),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()),
				)
				err = fmt.Errorf("handler panic: %v", p)
			}
		}()

		if err := r.handler(ctx, msg); err != nil {
			l.log.Error("❌ Error procesando mensaje",
				zap.String("queue", r.queue),
				zap.String("message_id", msg.MessageID),
				zap.Error(err),
			)
			return err
		}
		return nil
	}
}
