package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	sharedBus "github.com/davicafu/productflow/internal/shared/infra/platform/bus"
	"go.uber.org/zap"
)

// InMemoryBroker emula el enrutado AMQP (fanout, topic, direct) y el dead-lettering por TTL
// dentro del proceso. Se usa sin AMQP_URL y en tests.
type InMemoryBroker struct {
	mu        sync.RWMutex
	exchanges map[string]sharedBus.ExchangeKind
	queues    map[string]*memQueue
	bindings  []sharedBus.Binding
	log       *zap.Logger

	closed chan struct{}
	once   sync.Once
}

var _ sharedBus.Broker = (*InMemoryBroker)(nil)

func NewInMemoryBroker(log *zap.Logger) *InMemoryBroker {
	return &InMemoryBroker{
		exchanges: make(map[string]sharedBus.ExchangeKind),
		queues:    make(map[string]*memQueue),
		log:       log,
		closed:    make(chan struct{}),
	}
}

func (b *InMemoryBroker) Declare(_ context.Context, topology sharedBus.Topology) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ex := range topology.Exchanges {
		if kind, ok := b.exchanges[ex.Name]; ok && kind != ex.Kind {
			return fmt.Errorf("exchange %s already declared as %s", ex.Name, kind)
		}
		b.exchanges[ex.Name] = ex.Kind
	}
	for _, q := range topology.Queues {
		if _, ok := b.queues[q.Name]; !ok {
			b.queues[q.Name] = newMemQueue(q)
		}
	}
	for _, bnd := range topology.Bindings {
		if _, ok := b.exchanges[bnd.Exchange]; !ok {
			return fmt.Errorf("bind: exchange %s not declared", bnd.Exchange)
		}
		if _, ok := b.queues[bnd.Queue]; !ok {
			return fmt.Errorf("bind: queue %s not declared", bnd.Queue)
		}
		if !b.hasBinding(bnd) {
			b.bindings = append(b.bindings, bnd)
		}
	}
	return nil
}

func (b *InMemoryBroker) hasBinding(bnd sharedBus.Binding) bool {
	for _, existing := range b.bindings {
		if existing == bnd {
			return true
		}
	}
	return false
}

// Publish enruta el mensaje a todas las colas cuyo binding casa. Sin destino el mensaje se pierde (como en AMQP).
func (b *InMemoryBroker) Publish(ctx context.Context, exchange, routingKey string, msg sharedBus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-b.closed:
		return fmt.Errorf("broker closed")
	default:
	}

	b.mu.RLock()
	kind, ok := b.exchanges[exchange]
	if !ok {
		b.mu.RUnlock()
		return fmt.Errorf("exchange %s not found", exchange)
	}
	var targets []*memQueue
	for _, bnd := range b.bindings {
		if bnd.Exchange == exchange && routes(kind, bnd.RoutingKey, routingKey) {
			targets = append(targets, b.queues[bnd.Queue])
		}
	}
	b.mu.RUnlock()

	msg.Exchange = exchange
	msg.RoutingKey = routingKey
	for _, q := range targets {
		b.enqueue(q, msg)
	}
	return nil
}

func (b *InMemoryBroker) enqueue(q *memQueue, msg sharedBus.Message) {
	if q.decl.TTL <= 0 {
		q.push(msg)
		return
	}

	// Cola con TTL: nadie la consume, el mensaje caduca y se desvía al DLX.
	time.AfterFunc(q.decl.TTL, func() { b.deadLetter(q, msg) })
}

func (b *InMemoryBroker) deadLetter(q *memQueue, msg sharedBus.Message) {
	if q.decl.DeadLetterExchange == "" {
		return
	}
	key := q.decl.DeadLetterRoutingKey
	if key == "" {
		key = msg.RoutingKey
	}
	if err := b.Publish(context.Background(), q.decl.DeadLetterExchange, key, msg); err != nil {
		b.log.Warn("⚠️ Dead-letter fallido", zap.String("queue", q.decl.Name), zap.Error(err))
	}
}

// Consume saca mensajes de la cola hasta que ctx se cancela. Varios Consume sobre la misma cola compiten.
func (b *InMemoryBroker) Consume(ctx context.Context, queue string, handler sharedBus.Handler) error {
	b.mu.RLock()
	q, ok := b.queues[queue]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("queue %s not found", queue)
	}

	for {
		msg, ok := q.pop(ctx, b.closed)
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: queue %s", sharedBus.ErrConsumerClosed, queue)
		}
		if err := handler(ctx, msg); err != nil {
			// Nack sin reencolar.
			b.deadLetter(q, msg)
		}
	}
}

// Depth devuelve los mensajes pendientes en una cola.
func (b *InMemoryBroker) Depth(queue string) int {
	b.mu.RLock()
	q, ok := b.queues[queue]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return q.len()
}

func (b *InMemoryBroker) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

// ---------------- Cola ----------------

type memQueue struct {
	decl   sharedBus.Queue
	mu     sync.Mutex
	items  []sharedBus.Message
	signal chan struct{}
}

func newMemQueue(decl sharedBus.Queue) *memQueue {
	return &memQueue{decl: decl, signal: make(chan struct{}, 1)}
}

func (q *memQueue) push(msg sharedBus.Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *memQueue) pop(ctx context.Context, closed <-chan struct{}) (sharedBus.Message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// Despierta a otro consumidor competidor.
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			return msg, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return sharedBus.Message{}, false
		case <-closed:
			return sharedBus.Message{}, false
		case <-q.signal:
		}
	}
}

func (q *memQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ---------------- Enrutado ----------------

func routes(kind sharedBus.ExchangeKind, bindingKey, routingKey string) bool {
	switch kind {
	case sharedBus.KindFanout:
		return true
	case sharedBus.KindDirect:
		return bindingKey == routingKey
	case sharedBus.KindTopic:
		return MatchTopic(bindingKey, routingKey)
	}
	return false
}

// MatchTopic aplica las reglas AMQP de topic: palabras separadas por '.',
// '*' sustituye exactamente una palabra y '#' cero o más.
func MatchTopic(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}
