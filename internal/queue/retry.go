package queue

import (
	"context"
	"errors"

	"github.com/rabbitmq/amqp091-go"

	"github.com/relgraph/backend/pkg/logger"
)

const retriesHeader = "x-retries"

func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleProcessingError routes a failed delivery. Malformed messages and
// messages that used up maxRetries go to the dead-letter queue; everything
// else goes to the retry queue with an incremented retry count. The
// original delivery is acked once the copy is published and nacked with
// requeue if publishing fails.
func HandleProcessingError(ctx context.Context, pub Publisher, msg amqp091.Delivery, queueName string, procErr error, maxRetries int) {
	retries := retryCount(msg.Headers)

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	target := queueName + "_retry"
	if errors.Is(procErr, ErrMalformedMessage) || retries >= maxRetries {
		target = queueName + "_dlq"
		if procErr != nil {
			headers["x-last-error"] = procErr.Error()
		}
		logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "retries", retries, "err", procErr)
	} else {
		headers[retriesHeader] = int32(retries + 1)
		logger.Info("[Queue] Scheduling retry", "queue", target, "attempt", retries+1, "err", procErr)
	}

	err := pub.PublishWithContext(ctx, "", target, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		logger.Error("[Queue] Failed to publish failed message", "queue", target, "err", err)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			logger.Error("[Queue] Failed to nack message", "err", nackErr)
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		logger.Error("[Queue] Failed to ack message", "err", ackErr)
	}
}
