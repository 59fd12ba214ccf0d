package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/util"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const retriesHeader = "x-retries"

// Channel is the part of *amqp.Channel used by Consume.
type Channel interface {
	Publisher
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// HandlerFunc processes one message body from queueName.
type HandlerFunc func(ctx context.Context, queueName string, body []byte) error

type queuedMessage struct {
	msg       amqp.Delivery
	queueName string
}

// Consume reads every queue and hands messages to handle one at a time
// until ctx is done. A failed message goes to its retry queue until it has
// been retried maxRetries times, then to the dead letter queue. Malformed
// messages and permanent errors go to the dead letter queue directly.
func Consume(ctx context.Context, ch Channel, queues []string, maxRetries int, handle HandlerFunc) error {
	if err := ch.Qos(1, 0, true); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	messages := make(chan queuedMessage)
	for _, name := range queues {
		deliveries, err := ch.Consume(name, name+"_consumer", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", name, err)
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-deliveries:
					if !ok {
						logger.Info("[Queue] Delivery channel closed", "queue", name)
						return
					}
					select {
					case messages <- queuedMessage{msg: msg, queueName: name}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping consumer")
			return nil
		case qm := <-messages:
			start := time.Now()
			err := handle(ctx, qm.queueName, qm.msg.Body)
			if err != nil {
				logger.Error("[Queue] Error processing message", "queue", qm.queueName, "err", err)
				route(ctx, ch, qm.msg, qm.queueName, maxRetries, err)
				continue
			}
			if err := qm.msg.Ack(false); err != nil {
				logger.Error("[Queue] Failed to ack message", "queue", qm.queueName, "err", err)
			}
			logger.Info("[Queue] Message processed", "queue", qm.queueName, "duration", time.Since(start).Round(time.Millisecond).String())
		}
	}
}

func retriesOf(msg amqp.Delivery) int {
	switch v := msg.Headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// route republishes a failed message to its retry or dead letter queue and
// acks the original. If publishing fails the message is requeued.
func route(ctx context.Context, ch Publisher, msg amqp.Delivery, queueName string, maxRetries int, cause error) {
	retries := retriesOf(msg)
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	target := queueName + retrySuffix
	if retries >= maxRetries || errors.Is(cause, ErrMalformed) || util.IsPermanent(cause) {
		target = queueName + dlqSuffix
		headers["x-error"] = cause.Error()
		logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "retries", retries)
	} else {
		headers[retriesHeader] = int32(retries + 1)
	}

	err := ch.PublishWithContext(ctx, "", target, false, false, amqp.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		logger.Error("[Queue] Failed to republish message", "queue", target, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
