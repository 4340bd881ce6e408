package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/product-video/shared/rabbitmq"
)

// AttemptHeader carries the delivery attempt on AMQP messages.
const AttemptHeader = "x-delivery-attempt"

// Publisher accepts work for asynchronous processing.
type Publisher interface {
	// Enqueue returns once the message is durably handed to the broker.
	Enqueue(ctx context.Context, msg Message) error
}

// Retrier schedules a delayed redelivery.
type Retrier interface {
	CanRetry(attempt int) bool
	Retry(ctx context.Context, msg Message) error
	DeadLetter(ctx context.Context, msg Message, reason string) error
}

// Broker is the subset of the RabbitMQ client used for dispatch.
type Broker interface {
	PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error
	PublishDelayed(ctx context.Context, msg rabbitmq.Message, delay time.Duration) error
	PublishDeadLetter(ctx context.Context, msg rabbitmq.Message) error
}

// RabbitPublisher publishes job messages to RabbitMQ
type RabbitPublisher struct {
	broker Broker
	policy RetryPolicy
	logger *slog.Logger
}

// NewRabbitPublisher creates a new RabbitPublisher
func NewRabbitPublisher(broker Broker, policy RetryPolicy, logger *slog.Logger) *RabbitPublisher {
	return &RabbitPublisher{
		broker: broker,
		policy: policy.withDefaults(),
		logger: logger,
	}
}

// Policy returns the effective retry policy.
func (p *RabbitPublisher) Policy() RetryPolicy {
	return p.policy
}

func (p *RabbitPublisher) toAMQP(msg Message) (rabbitmq.Message, error) {
	body, err := msg.Encode()
	if err != nil {
		return rabbitmq.Message{}, fmt.Errorf("failed to encode message: %w", err)
	}
	return rabbitmq.Message{
		Body:        body,
		ContentType: "application/json",
		MessageID:   msg.JobID + "-" + strconv.Itoa(msg.Attempt),
		Headers:     amqp.Table{AttemptHeader: int32(msg.Attempt)},
	}, nil
}

// Enqueue publishes the first delivery of a job
func (p *RabbitPublisher) Enqueue(ctx context.Context, msg Message) error {
	if msg.Attempt <= 0 {
		msg.Attempt = 1
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	out, err := p.toAMQP(msg)
	if err != nil {
		return err
	}

	if err := p.broker.PublishWithRetry(ctx, out); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", msg.JobID, err)
	}

	p.logger.Info("Job enqueued",
		slog.String("job_id", msg.JobID),
		slog.String("account_id", msg.AccountID),
		slog.String("template_id", msg.TemplateID),
	)
	return nil
}

// CanRetry reports whether a delivery that failed on attempt may be retried
func (p *RabbitPublisher) CanRetry(attempt int) bool {
	return p.policy.CanRetry(attempt)
}

// Retry publishes the next attempt of msg after the policy's backoff.
func (p *RabbitPublisher) Retry(ctx context.Context, msg Message) error {
	if !p.policy.CanRetry(msg.Attempt) {
		return fmt.Errorf("job %s exhausted %d delivery attempts", msg.JobID, p.policy.MaxAttempts)
	}

	delay := p.policy.Backoff(msg.Attempt)
	next := msg
	next.Attempt = msg.Attempt + 1

	out, err := p.toAMQP(next)
	if err != nil {
		return err
	}

	if err := p.broker.PublishDelayed(ctx, out, delay); err != nil {
		return fmt.Errorf("failed to schedule retry for job %s: %w", msg.JobID, err)
	}

	p.logger.Warn("Job delivery scheduled for retry",
		slog.String("job_id", msg.JobID),
		slog.Int("next_attempt", next.Attempt),
		slog.Int("max_attempts", p.policy.MaxAttempts),
		slog.Duration("delay", delay),
	)
	return nil
}

// DeadLetter parks a message that exhausted its attempts.
func (p *RabbitPublisher) DeadLetter(ctx context.Context, msg Message, reason string) error {
	out, err := p.toAMQP(msg)
	if err != nil {
		return err
	}
	out.Headers["x-failure-reason"] = reason

	if err := p.broker.PublishDeadLetter(ctx, out); err != nil {
		return fmt.Errorf("failed to dead-letter job %s: %w", msg.JobID, err)
	}

	p.logger.Error("Job delivery dead-lettered",
		slog.String("job_id", msg.JobID),
		slog.Int("attempt", msg.Attempt),
		slog.String("reason", reason),
	)
	return nil
}

var (
	_ Publisher = (*RabbitPublisher)(nil)
	_ Retrier   = (*RabbitPublisher)(nil)
)
