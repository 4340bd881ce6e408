// Package worker consumes video job deliveries and runs them through the
// processor with bounded concurrency.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/product-video/internal/dispatch"
)

// JobProcessor runs one delivery
type JobProcessor interface {
	Process(ctx context.Context, msg dispatch.Message) error
}

// Consumer is the broker side of the worker
type Consumer interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// BillingSweeper resets expired billing periods
type BillingSweeper interface {
	ResetExpiredPeriods(ctx context.Context) (int64, error)
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Consumer      Consumer
	Processor     JobProcessor
	Retrier       dispatch.Retrier
	Reconciler    *Reconciler
	Sweeper       BillingSweeper
	WorkerID      string
	QueueName     string
	Concurrency   int
	PrefetchCount int
	SweepInterval time.Duration
}

// Worker represents the background job worker
type Worker struct {
	logger        *slog.Logger
	consumer      Consumer
	processor     JobProcessor
	retrier       dispatch.Retrier
	reconciler    *Reconciler
	sweeper       BillingSweeper
	workerID      string
	queueName     string
	concurrency   int
	prefetchCount int
	sweepInterval time.Duration

	jobsChan chan *jobDelivery
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	return &Worker{
		logger:        cfg.Logger.With(slog.String("component", "worker")),
		consumer:      cfg.Consumer,
		processor:     cfg.Processor,
		retrier:       cfg.Retrier,
		reconciler:    cfg.Reconciler,
		sweeper:       cfg.Sweeper,
		workerID:      cfg.WorkerID,
		queueName:     cfg.QueueName,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		sweepInterval: cfg.SweepInterval,
		jobsChan:      make(chan *jobDelivery),
		stopChan:      make(chan struct{}),
	}
}

// Start consumes deliveries until ctx is canceled or the broker closes the
// delivery channel.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	if w.reconciler != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.reconciler.Run(ctx)
		}()
	}

	if w.sweeper != nil && w.sweepInterval > 0 {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			runEvery(ctx, w.stopChan, w.sweepInterval, w.sweepBilling)
		}()
	}

	w.startMessageDispatcher(ctx, deliveries)

	if ctx.Err() != nil {
		w.logger.Info("Worker context canceled, stopping...")
		return nil
	}
	return errors.New("delivery channel closed")
}

// Stop gracefully stops the worker and waits for in-flight jobs
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

func (w *Worker) sweepBilling(ctx context.Context) {
	reset, err := w.sweeper.ResetExpiredPeriods(ctx)
	if err != nil {
		w.logger.Warn("Billing reset sweep skipped", slog.Any("error", err))
		return
	}
	w.logger.Debug("Billing reset sweep finished", slog.Int64("accounts_reset", reset))
}

// runEvery calls fn once per interval until ctx or stop is done.
func runEvery(ctx context.Context, stop <-chan struct{}, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
