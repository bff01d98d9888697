package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/relgraph/backend/pkg/logger"
)

// Consumer is the part of *amqp091.Channel a worker reads from.
type Consumer interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
}

// Handler processes one message body from queueName.
type Handler func(ctx context.Context, queueName string, body []byte) error

// Consume fans the deliveries of all queues into a single processing loop,
// so one message is handled at a time across queues. It returns when ctx is
// cancelled or a delivery channel closes.
func Consume(ctx context.Context, ch Consumer, pub Publisher, queues []string, maxRetries int, handle Handler) error {
	type queuedMessage struct {
		msg       amqp091.Delivery
		queueName string
	}
	messages := make(chan queuedMessage)
	closed := make(chan string, len(queues))

	for _, name := range queues {
		deliveries, err := ch.Consume(name, name+"_consumer", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to consume %s: %w", name, err)
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						closed <- name
						return
					}
					select {
					case messages <- queuedMessage{msg: d, queueName: name}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	logger.Info("[Queue] Listening for messages", "queues", queues)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping consumer")
			return nil
		case name := <-closed:
			return fmt.Errorf("delivery channel of %s closed", name)
		case qm := <-messages:
			start := time.Now()
			logger.Info("[Queue] Received message", "queue", qm.queueName)

			if err := handle(ctx, qm.queueName, qm.msg.Body); err != nil {
				logger.Error("[Queue] Error processing message", "queue", qm.queueName, "err", err)
				HandleProcessingError(ctx, pub, qm.msg, qm.queueName, err, maxRetries)
				continue
			}
			if err := qm.msg.Ack(false); err != nil {
				logger.Error("[Queue] Failed to ack message", "err", err)
			}
			logger.Info("[Queue] Message processed", "queue", qm.queueName, "duration", time.Since(start).Round(time.Millisecond))
		}
	}
}
