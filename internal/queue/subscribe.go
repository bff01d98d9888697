package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rabbitmq/amqp091-go"

	"github.com/relgraph/backend/pkg/logger"
)

// Subscriber is the part of *amqp091.Channel needed to follow the events
// exchange.
type Subscriber interface {
	Consumer
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
}

// SubscribeSnapshots binds a private queue to SnapshotTopic and calls
// handle for every event until ctx is done. Events are auto-acked; a
// handler error is logged and the next event is awaited.
func SubscribeSnapshots(ctx context.Context, ch Subscriber, handle func(ctx context.Context, evt SnapshotEvent) error) error {
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(q.Name, SnapshotTopic, EventsExchange, false, nil); err != nil {
		return err
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("snapshot event channel closed")
			}
			var evt SnapshotEvent
			if err := json.Unmarshal(d.Body, &evt); err != nil {
				logger.Warn("[Queue] Ignoring malformed snapshot event", "err", err)
				continue
			}
			if err := handle(ctx, evt); err != nil {
				logger.Warn("[Queue] Failed to apply snapshot event", "version", evt.Version, "err", err)
			}
		}
	}
}
