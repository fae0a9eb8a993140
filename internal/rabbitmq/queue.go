package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// RabbitMQClient publishes task lifecycle events. It is safe for concurrent use.
type RabbitMQClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel

	mu       sync.Mutex
	declared map[string]bool
}

func NewRabbitMQClient(amqpURL string, queueNames ...string) (*RabbitMQClient, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		err2 := conn.Close()
		if err2 != nil {
			slog.Error("error occurred while closing connection", "error", err2.Error())
		}

		return nil, err
	}

	client := &RabbitMQClient{
		conn:     conn,
		channel:  ch,
		declared: map[string]bool{},
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	for _, queueName := range queueNames {
		if err = client.checkQueueDeclaration(queueName); err != nil {
			slog.Error("Error while checking declaration of events queue", "queue_name", queueName, "error", err.Error())
			if err2 := client.Close(); err2 != nil {
				slog.Error("error occurred while closing connection", "error", err2.Error())
			}
			return nil, err
		}
	}

	return client, nil
}

func (c *RabbitMQClient) PublishMessage(queueName, body string) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	err = c.checkQueueDeclaration(queueName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	return c.channel.PublishWithContext(
		ctx,
		"",        // exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         []byte(body),
		})
}

func (c *RabbitMQClient) Close() error {
	err := c.channel.Close()
	if err != nil {
		return err
	}

	err = c.conn.Close()
	return err
}

func (c *RabbitMQClient) IsHealthy() bool {
	if c.conn.IsClosed() {
		slog.Error("RabbitMQ connection is closed, Rabbit is not healthy")
		return false
	}

	ch, err := c.conn.Channel()
	if err != nil {
		slog.Error("Failed to open RabbitMQ channel, Rabbit is not healthy", "error", err)
		return false
	}
	defer func() {
		err = ch.Close()
		if err != nil {
			slog.Error("Error occurred while closing rabbit channel created for health check", "error", err.Error())
		}
	}()

	return true
}

// checkQueueDeclaration must be called with c.mu held
func (c *RabbitMQClient) checkQueueDeclaration(queueName string) (err error) {
	if c.declared[queueName] {
		return nil
	}

	_, err = c.channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return err
	}

	c.declared[queueName] = true
	return nil
}
