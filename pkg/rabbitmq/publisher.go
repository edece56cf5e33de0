// Package rabbitmq publishes outbox events to a durable topic exchange.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/angelmondragon/fanvault-backend/pkg/config"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
)

const dialTimeout = 10 * time.Second

type Publisher struct {
	url      string
	exchange string
	logg     *logger.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(ctx context.Context, cfg config.RabbitMQConfig, logg *logger.Logger) (*Publisher, error) {
	cleanURL, err := sanitizeURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		return nil, errors.New("rabbitmq exchange is required")
	}
	p := &Publisher{url: cleanURL, exchange: exchange, logg: logg}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "exchange", exchange), "rabbitmq publisher initialized")
	}
	return p, nil
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if clean == "" {
		return "", errors.New("rabbitmq url is required")
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse rabbitmq url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("rabbitmq url must use amqp:// or amqps://")
	}
	return clean, nil
}

func (p *Publisher) connectLocked() error {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp091.DialConfig(p.url, amqp091.Config{Dial: amqp091.DefaultDial(dialTimeout)})
		if err != nil {
			return fmt.Errorf("dial rabbitmq: %w", err)
		}
		p.conn = conn
		p.channel = nil
	}
	if p.channel == nil || p.channel.IsClosed() {
		ch, err := p.conn.Channel()
		if err != nil {
			return fmt.Errorf("open rabbitmq channel: %w", err)
		}
		if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
		}
		p.channel = ch
	}
	return nil
}

// Publish routes the payload by topic. The broker assigns no id, so the
// returned id echoes the event_id attribute.
func (p *Publisher) Publish(ctx context.Context, topic string, data []byte, attributes map[string]string) (string, error) {
	headers := amqp091.Table{}
	for k, v := range attributes {
		headers[k] = v
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    attributes["event_id"],
		Type:         attributes["event_type"],
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         data,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return "", err
	}
	err := p.channel.PublishWithContext(ctx, p.exchange, topic, false, false, msg)
	if err != nil {
		// one reconnect attempt; the channel is dead after a broker-side error
		p.channel = nil
		if connErr := p.connectLocked(); connErr != nil {
			return "", errors.Join(err, connErr)
		}
		if err := p.channel.PublishWithContext(ctx, p.exchange, topic, false, false, msg); err != nil {
			return "", fmt.Errorf("publish to %s: %w", topic, err)
		}
	}
	return msg.MessageId, nil
}

func (p *Publisher) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked()
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
		p.channel = nil
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
		p.conn = nil
	}
	return errors.Join(errs...)
}
