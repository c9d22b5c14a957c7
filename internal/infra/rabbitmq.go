// README: RabbitMQ connection used to publish ride events.
package infra

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQP pairs a connection with the single channel used for publishing.
type AMQP struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
}

func NewAMQP(url string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	return &AMQP{Conn: conn, Channel: ch}, nil
}

func (a *AMQP) Close() error {
	if a == nil {
		return nil
	}
	if err := a.Channel.Close(); err != nil && !a.Conn.IsClosed() {
		_ = a.Conn.Close()
		return err
	}
	return a.Conn.Close()
}
