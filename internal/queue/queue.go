// Package queue is the RabbitMQ transport of the worker. Every work queue
// has a "_retry" queue that dead-letters back after a delay and a "_dlq"
// queue for messages that exhausted their retries.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	IngestQueue = "ingest_queue"
	InferQueue  = "infer_queue"

	retrySuffix = "_retry"
	dlqSuffix   = "_dlq"

	retryDelay = 10 * time.Second
)

// Queues lists the work queues consumed by the worker.
var Queues = []string{IngestQueue, InferQueue}

// Declarer is the part of *amqp.Channel used to declare the topology.
type Declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// Publisher is the part of *amqp.Channel used to publish.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

func Dial(cfg config.RabbitMQConfig) (*amqp.Connection, error) {
	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq at %s:%s: %w", cfg.Host, cfg.Port, err)
	}
	return conn, nil
}

// SetupQueues declares each queue with its retry and dead letter queues.
func SetupQueues(ch Declarer, names []string) error {
	for _, name := range names {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}
		if _, err := ch.QueueDeclare(name+dlqSuffix, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", name+dlqSuffix, err)
		}
		_, err := ch.QueueDeclare(name+retrySuffix, true, false, false, false, amqp.Table{
			"x-message-ttl":             int32(retryDelay / time.Millisecond),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": name,
		})
		if err != nil {
			return fmt.Errorf("declare %s: %w", name+retrySuffix, err)
		}
	}
	return nil
}

// PublishJSON sends v as a persistent JSON message to queueName.
func PublishJSON(ctx context.Context, ch Publisher, queueName string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
}
