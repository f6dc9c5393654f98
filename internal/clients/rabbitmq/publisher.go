package rabbitmq

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher enqueues quiz request messages for the worker. Used by the
// request-intake side.
type Publisher struct {
	channel *amqp.Channel
	queue   string
}

func NewPublisher(conn *amqp.Connection, queue string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		queue,
		true, // durable
		false,
		false,
		false,
		nil,
	); err != nil {
		return nil, err
	}

	return &Publisher{channel: ch, queue: queue}, nil
}

func (p *Publisher) Publish(ctx context.Context, msg QuizRequestMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx,
		"", // default exchange
		p.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func (p *Publisher) Close() error {
	return p.channel.Close()
}
