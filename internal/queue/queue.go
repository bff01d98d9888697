// Package queue connects the extraction pipeline to RabbitMQ: work arrives
// on durable FIFO queues and snapshot events leave on a topic exchange.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/relgraph/backend/pkg/logger"
)

const (
	ExtractQueue = "extract_queue"
	RebuildQueue = "rebuild_queue"

	EventsExchange    = "graph_events"
	SnapshotTopic     = "graph.snapshot"
	DefaultRetryTTL   = 10 * time.Second
	DefaultMaxRetries = 10
)

// Queues lists the work queues a worker consumes.
var Queues = []string{ExtractQueue, RebuildQueue}

type Config struct {
	User     string
	Password string
	Host     string
	Port     string
}

func (c Config) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.User, c.Password, c.Host, c.Port)
}

func Dial(cfg Config) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// Declarer is the part of *amqp091.Channel used to set up the topology.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

// Publisher is the part of *amqp091.Channel used to send messages.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// SetupQueues declares the events exchange and, for every queue, the queue
// itself, a dead-letter queue and a retry queue whose messages return to
// the main queue after retryTTL.
func SetupQueues(ch Declarer, queueNames []string, retryTTL time.Duration) error {
	if retryTTL <= 0 {
		retryTTL = DefaultRetryTTL
	}
	if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", EventsExchange, err)
	}

	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
		if _, err := ch.QueueDeclare(name+"_dlq", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s_dlq: %w", name, err)
		}
		_, err := ch.QueueDeclare(name+"_retry", true, false, false, false, amqp091.Table{
			"x-message-ttl":             int32(retryTTL.Milliseconds()),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": name,
		})
		if err != nil {
			return fmt.Errorf("failed to declare queue %s_retry: %w", name, err)
		}
	}
	logger.Debug("[Queue] Topology declared", "queues", queueNames)
	return nil
}

// PublishFIFO sends a persistent JSON message to a work queue.
func PublishFIFO(ctx context.Context, ch Publisher, queueName string, data []byte) error {
	return ch.PublishWithContext(ctx, "", queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}

// PublishTopic sends a JSON event to the events exchange.
func PublishTopic(ctx context.Context, ch Publisher, topic string, data []byte) error {
	return ch.PublishWithContext(ctx, EventsExchange, topic, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}
