// Package mq forwards committed order events to RabbitMQ so other services
// (kitchen displays, notifications) can follow the order lifecycle.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/comanda-app/api/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
)

// OrdersExchange is the durable topic exchange order events are published to.
const OrdersExchange = "orders_topic"

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes events with publisher confirms. Publish calls are
// serialised so each confirmation matches the message just sent.
type Publisher struct {
	conn *amqp.Connection
	ch   channel
	acks <-chan amqp.Confirmation
	mu   sync.Mutex

	// ConfirmTimeout bounds the wait for a broker ack.
	ConfirmTimeout time.Duration
}

// Dial connects to url, enables confirms and declares OrdersExchange.
func Dial(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	if err := ch.ExchangeDeclare(OrdersExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p := newPublisher(ch, acks)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, acks <-chan amqp.Confirmation) *Publisher {
	return &Publisher{ch: ch, acks: acks, ConfirmTimeout: 5 * time.Second}
}

// RoutingKey is order.<status> in lower case, e.g. order.ready. Events
// without a status fall back to their type.
func RoutingKey(e events.Event) string {
	if e.Status == "" {
		return e.Type
	}
	return "order." + strings.ToLower(e.Status)
}

// MessageID identifies one lifecycle step of an entity. It differs for each
// status an order passes through and stays the same when a publish is retried.
func MessageID(e events.Event) string {
	if e.Status == "" {
		return e.EntityID.String() + ":" + e.Type
	}
	return e.EntityID.String() + ":" + e.Type + ":" + strings.ToLower(e.Status)
}

// Publish sends e to OrdersExchange and waits for the broker to confirm it.
func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.ConfirmTimeout)
	defer cancel()

	if err := p.ch.PublishWithContext(ctx, OrdersExchange, RoutingKey(e), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    e.OccurredAt,
		MessageId:    MessageID(e),
		Type:         e.Type,
		Headers:      amqp.Table{"event_type": e.Type},
		Body:         body,
	}); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	select {
	case conf, ok := <-p.acks:
		if !ok {
			return errors.New("confirm channel closed")
		}
		if !conf.Ack {
			return errors.New("publish NACK from broker")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bridge subscribes the publisher to order events on broker. Failed
// publishes are retried a few times and then logged; they never block
// the request that produced the event.
func (p *Publisher) Bridge(ctx context.Context, broker *events.Broker) *events.Subscription {
	isOrderEvent := func(e events.Event) bool {
		return strings.HasPrefix(e.Type, "order.")
	}
	return broker.Subscribe(isOrderEvent, func(e events.Event) {
		b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
		err := backoff.Retry(func() error {
			return p.Publish(ctx, e)
		}, b)
		if err != nil {
			log.Printf("WARNING: publish %s for %s: %v", e.Type, e.EntityID, err)
		}
	})
}

// Close closes the channel and connection.
func (p *Publisher) Close() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
