package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/product-video/internal/domain"
)

type settlement int

const (
	settleAck settlement = iota
	settleRetry
	settleDeadLetter
	settleRequeue
	settleDrop
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleRetry:
		return "retry"
	case settleDeadLetter:
		return "dead_letter"
	case settleRequeue:
		return "requeue"
	default:
		return "drop"
	}
}

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", workerName))
	logger.Info("Worker goroutine started")

	for {
		select {
		case <-w.stopChan:
			logger.Info("Worker goroutine stopping - stopChan closed")
			return

		case <-ctx.Done():
			logger.Info("Worker goroutine stopping - context canceled")
			return

		case job := <-w.jobsChan:
			logger.Info("Worker received job",
				slog.String("job_id", job.msg.JobID),
				slog.Int("attempt", job.msg.Attempt),
				slog.Uint64("delivery_tag", job.deliveryTag),
			)

			err := w.processor.Process(ctx, job.msg)
			w.settle(ctx, logger, job, err)
		}
	}
}

// settle acknowledges or rejects a delivery based on the processing result
func (w *Worker) settle(ctx context.Context, logger *slog.Logger, job *jobDelivery, err error) {
	decision := w.decide(job, err)
	logger = logger.With(
		slog.String("job_id", job.msg.JobID),
		slog.String("settlement", decision.String()),
	)

	if err != nil && decision != settleAck {
		logger.Warn("Job delivery not completed", slog.Any("error", err))
	}

	switch decision {
	case settleRetry:
		if retryErr := w.retrier.Retry(ctx, job.msg); retryErr != nil {
			logger.Error("Failed to schedule retry, requeueing", slog.Any("error", retryErr))
			w.nack(logger, job, true)
			return
		}
		w.ack(logger, job)

	case settleDeadLetter:
		if dlErr := w.retrier.DeadLetter(ctx, job.msg, err.Error()); dlErr != nil {
			logger.Error("Failed to dead-letter job", slog.Any("error", dlErr))
		}
		w.nack(logger, job, false)

	case settleRequeue:
		w.nack(logger, job, true)

	case settleDrop:
		w.nack(logger, job, false)

	default:
		w.ack(logger, job)
	}
}

// decide maps a processing result to a settlement
func (w *Worker) decide(job *jobDelivery, err error) settlement {
	switch {
	case err == nil:
		return settleAck

	// redelivery of work that is done, owned elsewhere or gone
	case errors.Is(err, domain.ErrJobFinished),
		errors.Is(err, domain.ErrJobInProgress),
		errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrLeaseLost):
		return settleAck

	case errors.Is(err, domain.ErrInvalidPayload):
		return settleDrop

	// shutdown: hand the delivery back to the broker
	case errors.Is(err, context.Canceled):
		return settleRequeue

	case domain.IsRetryable(err):
		if w.retrier == nil {
			return settleRequeue
		}
		if w.retrier.CanRetry(job.msg.Attempt) {
			return settleRetry
		}
		return settleDeadLetter

	default:
		return settleDrop
	}
}

func (w *Worker) ack(logger *slog.Logger, job *jobDelivery) {
	if err := job.ack.Ack(false); err != nil {
		logger.Error("Failed to ACK message", slog.Any("error", err))
		return
	}
	logger.Debug("Message ACKed")
}

func (w *Worker) nack(logger *slog.Logger, job *jobDelivery, requeue bool) {
	if err := job.ack.Nack(false, requeue); err != nil {
		logger.Error("Failed to NACK message", slog.Any("error", err))
		return
	}
	logger.Info("Message NACKed", slog.Bool("requeue", requeue))
}
