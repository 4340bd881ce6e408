package worker

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/product-video/internal/dispatch"
)

// acknowledger settles a delivery; amqp.Delivery implements it
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// jobDelivery is a decoded message plus the handle to settle it
type jobDelivery struct {
	msg         dispatch.Message
	deliveryTag uint64
	ack         acknowledger
}

// setupConsumer sets QoS and starts consuming
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	// prefetch bounds unacknowledged deliveries held by this worker
	if err := w.consumer.Qos(w.prefetchCount); err != nil {
		return nil, err
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.consumer.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.String("queue", w.queueName),
	)

	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands them to the pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - stopChan closed")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			job, err := decodeDelivery(delivery)
			if err != nil {
				w.logger.Error("Dropping malformed delivery",
					slog.Any("error", err),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
				// malformed messages are never retried
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message", slog.Any("error", nackErr))
				}
				continue
			}

			select {
			case w.jobsChan <- job:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", job.msg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown", slog.Any("error", nackErr))
				}
				return
			}
		}
	}
}

// decodeDelivery parses the body. The attempt header wins over the body
// when both are present.
func decodeDelivery(delivery amqp.Delivery) (*jobDelivery, error) {
	msg, err := dispatch.Decode(delivery.Body)
	if err != nil {
		return nil, err
	}

	switch v := delivery.Headers[dispatch.AttemptHeader].(type) {
	case int32:
		if v > 0 {
			msg.Attempt = int(v)
		}
	case int64:
		if v > 0 {
			msg.Attempt = int(v)
		}
	}

	return &jobDelivery{
		msg:         msg,
		deliveryTag: delivery.DeliveryTag,
		ack:         delivery,
	}, nil
}
