// Package queue declares the RabbitMQ topology for Conversions API dispatch
// and publishes outbox ids onto it.
package queue

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/config"
)

// Channel is the subset of *amqp.Channel the package uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Close() error
}

// Topology names the exchanges and queues. Messages nacked without requeue
// land in the dead-letter queue.
type Topology struct {
	Exchange   string
	Queue      string
	RoutingKey string
	DLX        string
	DLQ        string
}

// TopologyFor derives the topology from config.
func TopologyFor(cfg config.QueueConfig) Topology {
	return Topology{
		Exchange:   cfg.Exchange,
		Queue:      cfg.Queue,
		RoutingKey: "capi.event",
		DLX:        cfg.Exchange + ".dlx",
		DLQ:        cfg.Queue + ".dlq",
	}
}

// Declare creates the dead-letter pair first, then the main exchange and
// queue bound to it. Declarations are idempotent.
func Declare(ch Channel, t Topology) error {
	if err := ch.ExchangeDeclare(t.DLX, "direct", true, false, false, false, nil); err != nil {
		return eris.Wrapf(err, "queue: declare exchange %s", t.DLX)
	}
	if _, err := ch.QueueDeclare(t.DLQ, true, false, false, false, nil); err != nil {
		return eris.Wrapf(err, "queue: declare queue %s", t.DLQ)
	}
	if err := ch.QueueBind(t.DLQ, t.RoutingKey, t.DLX, false, nil); err != nil {
		return eris.Wrapf(err, "queue: bind %s", t.DLQ)
	}

	if err := ch.ExchangeDeclare(t.Exchange, "direct", true, false, false, false, nil); err != nil {
		return eris.Wrapf(err, "queue: declare exchange %s", t.Exchange)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    t.DLX,
		"x-dead-letter-routing-key": t.RoutingKey,
	}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, args); err != nil {
		return eris.Wrapf(err, "queue: declare queue %s", t.Queue)
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return eris.Wrapf(err, "queue: bind %s", t.Queue)
	}
	return nil
}

// RabbitMQ owns one connection and channel.
type RabbitMQ struct {
	conn *amqp.Connection
	ch   Channel
	topo Topology
}

// Dial connects and declares the topology.
func Dial(cfg config.QueueConfig) (*RabbitMQ, error) {
	if cfg.URL == "" {
		return nil, eris.New("queue: url is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "queue: dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "queue: open channel")
	}

	topo := TopologyFor(cfg)
	if err := Declare(ch, topo); err != nil {
		conn.Close() //nolint:errcheck
		return nil, err
	}
	zap.L().Info("queue: connected",
		zap.String("exchange", topo.Exchange),
		zap.String("queue", topo.Queue),
	)
	return &RabbitMQ{conn: conn, ch: ch, topo: topo}, nil
}

// Publisher returns a publisher on the shared channel.
func (r *RabbitMQ) Publisher() *Publisher {
	return NewPublisher(r.ch, r.topo)
}

// Deliveries starts a manual-ack consumer with the given prefetch.
func (r *RabbitMQ) Deliveries(consumer string, prefetch int) (<-chan amqp.Delivery, error) {
	return Consume(r.ch, r.topo, consumer, prefetch)
}

// Close closes the channel and connection.
func (r *RabbitMQ) Close() error {
	if err := r.ch.Close(); err != nil && !eris.Is(err, amqp.ErrClosed) {
		zap.L().Warn("queue: close channel", zap.Error(err))
	}
	return eris.Wrap(r.conn.Close(), "queue: close connection")
}

// Consume registers a manual-ack consumer on the topology's queue.
func Consume(ch Channel, t Topology, consumer string, prefetch int) (<-chan amqp.Delivery, error) {
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return nil, eris.Wrap(err, "queue: set qos")
		}
	}
	d, err := ch.Consume(t.Queue, consumer, false, false, false, false, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: consume %s", t.Queue)
	}
	return d, nil
}

// Publisher sends persistent messages to the topology's exchange.
type Publisher struct {
	ch   Channel
	topo Topology
}

// NewPublisher creates a Publisher.
func NewPublisher(ch Channel, t Topology) *Publisher {
	return &Publisher{ch: ch, topo: t}
}

// Publish sends body as a persistent message. id becomes the MessageId.
func (p *Publisher) Publish(ctx context.Context, id string, body []byte) error {
	err := p.ch.PublishWithContext(ctx, p.topo.Exchange, p.topo.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    id,
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	return eris.Wrapf(err, "queue: publish %s", id)
}
