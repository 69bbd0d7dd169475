package bus

import (
	"context"
	"errors"
	"time"
)

// ErrConsumerClosed indica que el broker cerró la suscripción (canal o conexión caídos).
var ErrConsumerClosed = errors.New("consumer closed by broker")

type ExchangeKind string

const (
	KindFanout ExchangeKind = "fanout"
	KindTopic  ExchangeKind = "topic"
	KindDirect ExchangeKind = "direct"
)

type Exchange struct {
	Name string
	Kind ExchangeKind
}

// Queue describe una cola duradera. Con TTL > 0 los mensajes caducan y, si hay
// DeadLetterExchange, el broker los reenvía allí con DeadLetterRoutingKey.
type Queue struct {
	Name                 string
	TTL                  time.Duration
	DeadLetterExchange   string
	DeadLetterRoutingKey string
}

type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

// Topology es el conjunto de exchanges, colas y bindings que se declaran al arrancar.
type Topology struct {
	Exchanges []Exchange
	Queues    []Queue
	Bindings  []Binding
}

// Message es el sobre neutral que viaja por el broker. Los adapters lo traducen a su formato.
type Message struct {
	Body        []byte
	ContentType string
	Type        string
	MessageID   string
	Timestamp   time.Time
	Headers     map[string]interface{}

	// Solo en recepción.
	Exchange   string
	RoutingKey string
}

// Handler procesa un mensaje. Si devuelve error el mensaje se descarta sin reencolar.
type Handler func(ctx context.Context, msg Message) error

// La semántica de exchange/routing key y el formato del payload se deciden en los adapters.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg Message) error
}

type Consumer interface {
	// Consume bloquea hasta que ctx se cancela (devuelve nil) o el broker cierra la suscripción.
	Consume(ctx context.Context, queue string, handler Handler) error
}

type Declarer interface {
	Declare(ctx context.Context, topology Topology) error
}

// Broker agrupa lo que necesita la aplicación de un broker de mensajes.
type Broker interface {
	Publisher
	Consumer
	Declarer
	Close() error
}
