package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/product-video/internal/dispatch"
	"github.com/cuongbtq/product-video/internal/domain"
	"github.com/cuongbtq/product-video/internal/events"
	"github.com/cuongbtq/product-video/internal/processor"
)

// ReconcileStore is the persistence the reconciler needs
type ReconcileStore interface {
	ListStaleJobs(ctx context.Context, staleBefore time.Time, limit int) ([]*domain.Job, error)
	ReleaseJob(ctx context.Context, jobID string, staleBefore time.Time) (bool, error)
	FailJob(ctx context.Context, jobID, message string) (*domain.Job, error)
}

// ReconcilerConfig holds reconciler configuration
type ReconcilerConfig struct {
	Interval        time.Duration
	LeaseDuration   time.Duration
	MaxPollAttempts int
	// MaxDeliveries caps how often one job may be claimed before it is
	// failed instead of redispatched.
	MaxDeliveries int
	BatchSize     int
}

// Reconciler finds processing jobs whose worker stopped heartbeating.
// Jobs with a checkpointed operation and poll budget left are released and
// redispatched so polling resumes; the rest are failed.
type Reconciler struct {
	store     ReconcileStore
	publisher dispatch.Publisher
	sink      events.Sink
	logger    *slog.Logger
	cfg       ReconcilerConfig
	now       func() time.Time
}

// NewReconciler creates a new Reconciler
func NewReconciler(store ReconcileStore, publisher dispatch.Publisher, sink events.Sink, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = processor.DefaultLeaseDuration
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = processor.DefaultMaxPollAttempts
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if sink == nil {
		sink = events.Multi{}
	}

	return &Reconciler{
		store:     store,
		publisher: publisher,
		sink:      sink,
		logger:    logger.With(slog.String("component", "reconciler")),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run reconciles once per interval until ctx is canceled
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("Stale job reconciler started",
		slog.Duration("interval", r.cfg.Interval),
		slog.Duration("lease", r.cfg.LeaseDuration),
	)

	runEvery(ctx, nil, r.cfg.Interval, func(ctx context.Context) {
		if _, _, err := r.ReconcileOnce(ctx); err != nil {
			r.logger.Error("Stale job reconciliation failed", slog.Any("error", err))
		}
	})
}

// ReconcileOnce handles one batch of stale jobs and reports how many were
// redispatched and failed.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (redispatched, failed int, err error) {
	staleBefore := r.now().Add(-r.cfg.LeaseDuration)

	jobs, err := r.store.ListStaleJobs(ctx, staleBefore, r.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, job := range jobs {
		logger := r.logger.With(
			slog.String("job_id", job.ID),
			slog.String("account_id", job.AccountID),
			slog.Int("poll_attempts", job.PollAttempts),
			slog.Int("delivery_count", job.DeliveryCount),
		)

		if r.resumable(job) {
			released, err := r.store.ReleaseJob(ctx, job.ID, staleBefore)
			if err != nil {
				logger.Error("Failed to release stale job", slog.Any("error", err))
				continue
			}
			if !released {
				continue
			}
			if err := r.publisher.Enqueue(ctx, dispatch.MessageFromJob(job)); err != nil {
				logger.Error("Failed to redispatch stale job", slog.Any("error", err))
				continue
			}
			logger.Warn("Stale job redispatched for resumption")
			redispatched++
			continue
		}

		if _, err := r.store.FailJob(ctx, job.ID, processor.MsgLeaseExpired); err != nil {
			if !errors.Is(err, domain.ErrInvalidTransition) {
				logger.Error("Failed to fail stale job", slog.Any("error", err))
			}
			continue
		}
		r.sink.Emit(ctx, events.StateChanged(job.ID, job.AccountID, domain.JobStateProcessing, domain.JobStateFailed, processor.MsgLeaseExpired, r.now()))
		logger.Warn("Stale job failed")
		failed++
	}

	return redispatched, failed, nil
}

func (r *Reconciler) resumable(job *domain.Job) bool {
	return job.OperationToken != "" &&
		job.PollAttempts < r.cfg.MaxPollAttempts &&
		job.DeliveryCount < r.cfg.MaxDeliveries
}
