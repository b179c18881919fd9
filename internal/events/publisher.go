// Package events publishes domain events to an AMQP topic exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher sends JSON events. A nil Publisher discards events.
type Publisher struct {
	conn     *amqp091.Connection
	ch       channel
	exchange string
	logger   *slog.Logger
	now      func() time.Time
	mu       sync.Mutex
}

// Dial connects to the broker and declares a durable topic exchange.
func Dial(url, exchange string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp091.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}
	p := newPublisher(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{ch: ch, exchange: exchange, logger: logger, now: time.Now}
}

// Publish marshals payload and publishes it under routingKey.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any) error {
	if p == nil || p.ch == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", routingKey, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    p.now(),
		Type:         routingKey,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", routingKey, err)
	}
	p.logger.DebugContext(ctx, "event published", slog.String("exchange", p.exchange), slog.String("key", routingKey))
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
