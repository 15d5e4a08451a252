// Package notify publishes outbound verification/reset/receipt events to
// the email-transport collaborator over RabbitMQ, using a topic-exchange
// publisher wrapped in a circuit breaker since the email transport is
// explicitly external and best-effort.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/ahmadjamalnasir/VPN-backend/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker/v2"
)

// Event is a verification/reset/receipt notification routed to the
// email transport.
type Event struct {
	Kind      string `json:"kind"` // verification purpose: "email_verify" | "password_reset"
	Email     string `json:"email"`
	Code      string `json:"code,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// Publisher is the interface the rest of the core depends on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// AMQPPublisher publishes events to a durable topic exchange, wrapped in
// a circuit breaker so a degraded broker fails fast instead of blocking
// the request that triggered the notification.
type AMQPPublisher struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	breaker    *gobreaker.CircuitBreaker[any]
	logger     *slog.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", fmt.Errorf("notify: AMQP scheme must be amqp:// or amqps://")
	}
	return clean, nil
}

// NewAMQPPublisher dials the broker and declares the durable topic
// exchange notifications are published to.
func NewAMQPPublisher(amqpURL, exchange, routingKey string, logger *slog.Logger) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("notify: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("notify: channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("notify: exchange declare: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "notify.publish",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange, routingKey: routingKey, breaker: breaker, logger: logger}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	_, err := p.breaker.Execute(func() (any, error) {
		body, err := json.Marshal(event)
		if err != nil {
			return nil, err
		}
		return nil, p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		})
	})
	if err != nil {
		p.logger.Warn("notify: publish failed", "kind", event.Kind, "error", err)
		observability.RecordNotificationPublishFailure()
		return apperr.Wrap(apperr.DependencyDown, err, "failed to publish notification")
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
