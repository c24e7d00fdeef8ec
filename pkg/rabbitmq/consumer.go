/**
 * @description
 * Consumer side of the profile event stream. A Consumer opens per-user
 * subscriptions backed by exclusive auto-delete queues bound to the profile
 * events exchange; the onboarding watcher uses these as its push channel and
 * falls back to polling when a subscription cannot be opened.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ampel/onboarding-service/internal/domain"
)

// Consumer holds a RabbitMQ connection for opening subscriptions.
type Consumer struct {
	conn *amqp.Connection
}

// NewConsumer connects to RabbitMQ for consuming profile events.
func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	return &Consumer{conn: conn}, nil
}

// SubscribeProfileEvents opens a subscription delivering events for one user.
// The returned channel is closed when ctx is cancelled or the underlying
// delivery stream ends.
func (c *Consumer) SubscribeProfileEvents(ctx context.Context, userID string) (<-chan domain.ProfileEvent, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.ExchangeDeclare(ProfileEventsExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}

	// Exclusive auto-delete queue: one per subscriber, gone when it hangs up.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.QueueBind(q.Name, "profile.*", ProfileEventsExchange, false, nil); err != nil {
		ch.Close()
		return nil, err
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}

	out := make(chan domain.ProfileEvent, 8)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var event domain.ProfileEvent
				if err := json.Unmarshal(d.Body, &event); err != nil {
					log.Printf("level=warn component=rabbitmq_consumer msg=\"dropping undecodable profile event\" routing_key=%s err=%v", d.RoutingKey, err)
					continue
				}
				if event.UserID != userID {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the underlying connection.
func (c *Consumer) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
