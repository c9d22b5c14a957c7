// README: Post-commit fan-out of ride events to RabbitMQ.
package ride

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "ride_topic"

// Publisher receives an event only after its transition has been committed.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type AMQPPublisher struct {
	ch       *amqp.Channel
	exchange string
}

// NewAMQPPublisher declares the topic exchange and returns a publisher bound to it.
func NewAMQPPublisher(ch *amqp.Channel, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(ev), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%s:%d", ev.RideID, ev.Version),
		Timestamp:    ev.CreatedAt,
		Type:         "ride." + string(ev.Transition),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to rabbitmq: %w", err)
	}
	return nil
}

// RoutingKey is ride.<transition>.<ride id>, e.g. ride.accept.8f14e45f.
func RoutingKey(ev Event) string {
	return fmt.Sprintf("ride.%s.%s", ev.Transition, ev.RideID)
}
