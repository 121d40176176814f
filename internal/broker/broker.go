// Package broker fans order events out to every service instance through a
// RabbitMQ fanout exchange, so live subscribers connected to any instance see
// changes committed on another.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xenking/qrmenu/internal/codec"
	"github.com/xenking/qrmenu/internal/domain/order"
	"github.com/xenking/qrmenu/pkg/httpmiddleware"
)

// DefaultExchange is used when Config.Exchange is empty.
const DefaultExchange = "order_updates"

// Config holds the broker connection settings.
type Config struct {
	URL      string `json:"url" yaml:"url"`
	Exchange string `json:"exchange" yaml:"exchange"`
}

// confirmBuffer must absorb confirmations of publishes whose callers stopped
// waiting, or the connection blocks delivering them.
const confirmBuffer = 64

// confirmChannel is the part of *amqp.Channel used for publishing.
type confirmChannel interface {
	GetNextPublishSeqNo() uint64
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Broker publishes and consumes order events.
type Broker struct {
	conn     *amqp.Connection
	exchange string
	lg       *zap.Logger

	mu   sync.Mutex // serializes publishes so delivery tags are taken in order
	pub  confirmChannel
	acks <-chan amqp.Confirmation
}

// Dial connects to RabbitMQ, declares the exchange and puts the publishing
// channel into confirm mode.
func Dial(cfg Config, lg *zap.Logger) (*Broker, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := declare(ch, cfg.Exchange); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "confirm mode")
	}

	return &Broker{
		conn:     conn,
		exchange: cfg.Exchange,
		lg:       lg,
		pub:      ch,
		acks:     ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer)),
	}, nil
}

func declare(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	return errors.Wrapf(err, "declare exchange %q", exchange)
}

// Publish sends ev and waits for the broker to confirm it. Confirmations
// are matched by delivery tag: one left over from an earlier publish whose
// context ended first is discarded.
func (b *Broker) Publish(ctx context.Context, ev order.Event) error {
	body := codec.MarshalEvent(ev)

	b.mu.Lock()
	defer b.mu.Unlock()

	tag := b.pub.GetNextPublishSeqNo()
	if err := b.pub.PublishWithContext(ctx,
		b.exchange,
		"",    // fanout ignores the routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Transient,
			ContentType:  "application/json",
			Timestamp:    time.Now(),
			Type:         string(ev.Type),
			MessageId:    ev.Order.ID,
			// Lets the receiving instance log drops under the request id
			// that caused the change.
			CorrelationId: httpmiddleware.RequestIDFromContext(ctx),
			Body:          body,
		},
	); err != nil {
		return errors.Wrap(err, "publish")
	}

	for {
		select {
		case conf, ok := <-b.acks:
			if !ok {
				return errors.New("publish channel closed")
			}
			if conf.DeliveryTag < tag {
				continue
			}
			if !conf.Ack {
				return errors.Errorf("broker nacked delivery %d", conf.DeliveryTag)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Consume binds a private queue to the exchange and hands every decoded
// event to sink until ctx is done. Malformed messages are logged and
// dropped.
func (b *Broker) Consume(ctx context.Context, sink func(order.Event)) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return errors.Wrap(err, "open channel")
	}
	defer func() { _ = ch.Close() }()

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "declare queue")
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return errors.Wrap(err, "bind queue")
	}
	deliveries, err := ch.ConsumeWithContext(ctx,
		q.Name,
		"",    // consumer tag
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "consume")
	}

	b.lg.Info("Consuming order events", zap.String("exchange", b.exchange), zap.String("queue", q.Name))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery channel closed")
			}
			b.handle(d.CorrelationId, d.Body, sink)
		}
	}
}

func (b *Broker) handle(requestID string, body []byte, sink func(order.Event)) {
	ev, err := codec.UnmarshalEvent(body)
	if err != nil {
		b.lg.Warn("Drop malformed order event",
			zap.Error(err),
			zap.Int("size", len(body)),
			zap.String("request_id", requestID),
		)
		return
	}
	sink(ev)
}

// Ping reports whether the connection is still open.
func (b *Broker) Ping(context.Context) error {
	if b.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

// Close closes the channel and the connection.
func (b *Broker) Close() error {
	_ = b.pub.Close()
	return b.conn.Close()
}
