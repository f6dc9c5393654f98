package rabbitmq

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/quizstream/quizstream-worker/internal/logger"
)

// Handler processes one delivered quiz request. A nil return acks the
// message; an error nacks it with requeue, leaving redelivery policy to the
// broker. Idempotence across redeliveries is the handler's job.
type Handler func(ctx context.Context, msg QuizRequestMessage) error

type Consumer struct {
	log         *logger.Logger
	channel     *amqp.Channel
	queue       string
	handler     Handler
	prefetchCnt int
}

func NewConsumer(log *logger.Logger, conn *amqp.Connection, queue string, handler Handler) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	c := &Consumer{
		log:         log.With("client", "QuizRequestConsumer"),
		channel:     ch,
		queue:       queue,
		handler:     handler,
		prefetchCnt: 1,
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return nil, err
	}

	if err := ch.Qos(c.prefetchCnt, 0, false); err != nil {
		return nil, err
	}

	return c, nil
}

// Start consumes until the context is cancelled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // autoAck: we ack per message
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	c.log.Info("Consuming quiz requests", "queue", c.queue)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("Consumer shutting down")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.log.Warn("RabbitMQ channel closed")
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	var req QuizRequestMessage
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		// Poison payload, no point in redelivering.
		c.log.Error("Failed to unmarshal quiz request", "error", err)
		_ = msg.Nack(false, false)
		return
	}

	if err := c.handler(ctx, req); err != nil {
		c.log.Error("Failed to process quiz request",
			"quiz_name", req.QuizName, "user_id", req.UserID, "error", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

func (c *Consumer) Close() error {
	return c.channel.Close()
}
