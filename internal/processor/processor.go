// Package processor drives a video job from claim to a terminal state.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/product-video/internal/dispatch"
	"github.com/cuongbtq/product-video/internal/domain"
	"github.com/cuongbtq/product-video/internal/events"
	"github.com/cuongbtq/product-video/internal/generation"
	"github.com/cuongbtq/product-video/internal/playback"
	"github.com/cuongbtq/product-video/internal/template"
)

// Defaults for the poll loop and job lease.
const (
	DefaultPollInterval     = 5 * time.Second
	DefaultMaxPollAttempts  = 60
	DefaultLeaseDuration    = 2 * time.Minute
	DefaultProgressLogEvery = 6
)

// Terminal failure messages.
const (
	MsgTimedOut     = "video generation timed out"
	MsgNoVideoRef   = "no video reference in response"
	MsgLeaseExpired = "generation abandoned: worker lease expired"
)

const releaseTimeout = 5 * time.Second

// Store is the job persistence the processor needs.
type Store interface {
	ClaimJob(ctx context.Context, jobID, workerID string, staleBefore time.Time) (*domain.Job, error)
	CheckpointOperation(ctx context.Context, jobID, workerID, token string, pollAttempts int) error
	CompleteJob(ctx context.Context, jobID, videoURL string) (*domain.Job, error)
	FailJob(ctx context.Context, jobID, message string) (*domain.Job, error)
	ReleaseLease(ctx context.Context, jobID, workerID string) error
}

// Config holds processor configuration
type Config struct {
	WorkerID         string
	PollInterval     time.Duration
	MaxPollAttempts  int
	LeaseDuration    time.Duration
	ProgressLogEvery int
}

// Dependencies holds the processor's collaborators
type Dependencies struct {
	Store     Store
	Generator generation.Client
	Resolver  playback.Resolver
	Sink      events.Sink
	Logger    *slog.Logger
}

// Processor runs one job per Process call. It is safe for concurrent use;
// each call owns its operation handle exclusively.
type Processor struct {
	store     Store
	generator generation.Client
	resolver  playback.Resolver
	sink      events.Sink
	logger    *slog.Logger

	workerID         string
	pollInterval     time.Duration
	maxPollAttempts  int
	leaseDuration    time.Duration
	progressLogEvery int

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// New creates a new Processor
func New(deps Dependencies, cfg Config) (*Processor, error) {
	if deps.Store == nil || deps.Generator == nil || deps.Resolver == nil {
		return nil, errors.New("processor requires a store, a generator and a resolver")
	}
	if cfg.WorkerID == "" {
		return nil, errors.New("processor requires a worker id")
	}

	p := &Processor{
		store:            deps.Store,
		generator:        deps.Generator,
		resolver:         deps.Resolver,
		sink:             deps.Sink,
		logger:           deps.Logger,
		workerID:         cfg.WorkerID,
		pollInterval:     cfg.PollInterval,
		maxPollAttempts:  cfg.MaxPollAttempts,
		leaseDuration:    cfg.LeaseDuration,
		progressLogEvery: cfg.ProgressLogEvery,
		now:              time.Now,
		wait:             sleep,
	}

	if p.sink == nil {
		p.sink = events.Multi{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.pollInterval <= 0 {
		p.pollInterval = DefaultPollInterval
	}
	if p.maxPollAttempts <= 0 {
		p.maxPollAttempts = DefaultMaxPollAttempts
	}
	if p.leaseDuration <= 0 {
		p.leaseDuration = DefaultLeaseDuration
	}
	if p.progressLogEvery <= 0 {
		p.progressLogEvery = DefaultProgressLogEvery
	}

	return p, nil
}

// MaxPollAttempts returns the poll budget of a job
func (p *Processor) MaxPollAttempts() int {
	return p.maxPollAttempts
}

// Process handles one delivery of msg.
//
// A nil return means the job reached a terminal state during this call.
// ErrJobFinished, ErrJobInProgress, ErrJobNotFound and ErrLeaseLost mean
// the delivery had nothing to do. A RetryableError means the delivery
// should be retried. On a RetryableError or context cancellation after the
// claim, the lease is released so the next delivery can claim the job and
// resume from its last checkpoint.
func (p *Processor) Process(ctx context.Context, msg dispatch.Message) error {
	logger := p.logger.With(
		slog.String("job_id", msg.JobID),
		slog.String("account_id", msg.AccountID),
		slog.Int("attempt", msg.Attempt),
	)

	job, err := p.store.ClaimJob(ctx, msg.JobID, p.workerID, p.now().Add(-p.leaseDuration))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobFinished):
			logger.Info("Job already finished, skipping delivery")
			return err
		case errors.Is(err, domain.ErrJobInProgress):
			logger.Info("Job is being processed by another worker, skipping delivery")
			return err
		case errors.Is(err, domain.ErrJobNotFound):
			logger.Warn("Job not found, dropping delivery")
			return err
		default:
			logger.Error("Failed to claim job", slog.Any("error", err))
			return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
		}
	}

	err = p.run(ctx, logger, job)
	if domain.IsRetryable(err) || ctx.Err() != nil {
		p.release(ctx, logger, job)
	}
	return err
}

func (p *Processor) run(ctx context.Context, logger *slog.Logger, job *domain.Job) error {
	resuming := job.OperationToken != ""
	if job.DeliveryCount <= 1 {
		p.sink.Emit(ctx, events.StateChanged(job.ID, job.AccountID, domain.JobStateQueued, domain.JobStateProcessing, "", p.now()))
	}

	tmpl, ok := template.Get(job.TemplateID)
	if !ok {
		return p.fail(ctx, logger, job, fmt.Sprintf("template not found: %s", job.TemplateID))
	}

	var (
		op  generation.Operation
		err error
	)
	if resuming {
		op, err = generation.ParseToken(job.OperationToken)
		if err != nil {
			return p.fail(ctx, logger, job, fmt.Sprintf("invalid operation token: %v", err))
		}
		logger.Info("Resuming video generation",
			slog.String("operation", op.Name),
			slog.Int("poll_attempts", job.PollAttempts),
		)
	} else {
		op, err = p.generator.Start(ctx, generation.StartRequest{
			Prompt:             tmpl.Prompt,
			ReferenceImageURLs: job.SourceImageURLs,
			DurationSeconds:    tmpl.DurationSeconds,
			AspectRatio:        tmpl.AspectRatio,
		})
		if err != nil {
			if ctx.Err() != nil {
				logger.Warn("Video generation start interrupted", slog.Any("error", err))
				return fmt.Errorf("start interrupted: %w", ctx.Err())
			}
			return p.fail(ctx, logger, job, err.Error())
		}

		logger.Info("Video generation started",
			slog.String("operation", op.Name),
			slog.String("template_id", tmpl.ID),
		)

		if err := p.checkpoint(ctx, logger, job, op, 0); err != nil {
			return err
		}
	}

	return p.pollUntilDone(ctx, logger, job, op)
}

// pollUntilDone polls op until it finishes or the attempt budget runs out.
// Every poll passes the handle returned by the previous one.
func (p *Processor) pollUntilDone(ctx context.Context, logger *slog.Logger, job *domain.Job, op generation.Operation) error {
	started := p.now()

	for attempt := job.PollAttempts + 1; attempt <= p.maxPollAttempts; attempt++ {
		if err := p.wait(ctx, p.pollInterval); err != nil {
			logger.Warn("Polling interrupted, job left for resumption",
				slog.Int("poll_attempt", attempt),
				slog.Any("error", err),
			)
			return fmt.Errorf("polling interrupted: %w", err)
		}

		result, err := p.generator.Poll(ctx, op)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("polling interrupted: %w", ctx.Err())
			}
			p.sink.Emit(ctx, events.PollAttempted(job.ID, job.AccountID, attempt, events.PollError, p.now()))
			logger.Warn("Poll attempt failed",
				slog.Int("poll_attempt", attempt),
				slog.Int("max_poll_attempts", p.maxPollAttempts),
				slog.Any("error", err),
			)
			if err := p.checkpoint(ctx, logger, job, op, attempt); err != nil {
				return err
			}
			continue
		}

		op = result.Operation

		if result.Done {
			p.sink.Emit(ctx, events.PollAttempted(job.ID, job.AccountID, attempt, events.PollDone, p.now()))
			return p.finish(ctx, logger, job, result)
		}

		p.sink.Emit(ctx, events.PollAttempted(job.ID, job.AccountID, attempt, events.PollPending, p.now()))
		if attempt%p.progressLogEvery == 0 {
			logger.Info("Video generation in progress",
				slog.Int("poll_attempt", attempt),
				slog.Int("max_poll_attempts", p.maxPollAttempts),
				slog.Duration("elapsed", p.now().Sub(started)),
			)
		}

		if err := p.checkpoint(ctx, logger, job, op, attempt); err != nil {
			return err
		}
	}

	return p.fail(ctx, logger, job, MsgTimedOut)
}

func (p *Processor) finish(ctx context.Context, logger *slog.Logger, job *domain.Job, result generation.PollResult) error {
	if result.ErrorMessage != "" {
		return p.fail(ctx, logger, job, result.ErrorMessage)
	}
	if result.VideoRef == "" {
		return p.fail(ctx, logger, job, MsgNoVideoRef)
	}

	videoURL, err := p.resolver.Resolve(ctx, result.VideoRef)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("resolve interrupted: %w", ctx.Err())
		}
		return p.fail(ctx, logger, job, fmt.Sprintf("failed to resolve video url: %v", err))
	}

	if _, err := p.store.CompleteJob(ctx, job.ID, videoURL); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Warn("Job left processing before completion, result discarded")
			return domain.ErrJobFinished
		}
		logger.Error("Failed to mark job done", slog.Any("error", err))
		return domain.NewRetryableError(fmt.Errorf("failed to complete job: %w", err))
	}

	p.sink.Emit(ctx, events.StateChanged(job.ID, job.AccountID, domain.JobStateProcessing, domain.JobStateDone, "", p.now()))
	logger.Info("Video generation completed", slog.String("video_ref", result.VideoRef))

	return nil
}

func (p *Processor) fail(ctx context.Context, logger *slog.Logger, job *domain.Job, message string) error {
	if _, err := p.store.FailJob(ctx, job.ID, message); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Warn("Job already terminal, failure discarded", slog.String("error", message))
			return domain.ErrJobFinished
		}
		logger.Error("Failed to mark job failed",
			slog.String("reason", message),
			slog.Any("error", err),
		)
		return domain.NewRetryableError(fmt.Errorf("failed to fail job: %w", err))
	}

	p.sink.Emit(ctx, events.StateChanged(job.ID, job.AccountID, domain.JobStateProcessing, domain.JobStateFailed, message, p.now()))
	logger.Warn("Video generation failed", slog.String("error", message))

	return nil
}

// release drops this worker's lease. It runs on a detached context since
// shutdown may already have canceled ctx.
func (p *Processor) release(ctx context.Context, logger *slog.Logger, job *domain.Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := p.store.ReleaseLease(ctx, job.ID, p.workerID); err != nil {
		if errors.Is(err, domain.ErrLeaseLost) {
			return
		}
		logger.Warn("Failed to release job lease", slog.Any("error", err))
		return
	}
	logger.Info("Job lease released for redelivery")
}

// checkpoint persists op and the poll count. Losing the lease stops the
// loop; other storage errors are logged and polling continues.
func (p *Processor) checkpoint(ctx context.Context, logger *slog.Logger, job *domain.Job, op generation.Operation, attempts int) error {
	token, err := op.Token()
	if err != nil {
		logger.Warn("Failed to encode operation token", slog.Any("error", err))
		return nil
	}

	err = p.store.CheckpointOperation(ctx, job.ID, p.workerID, token, attempts)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrLeaseLost):
		logger.Warn("Job lease lost, stopping", slog.Int("poll_attempts", attempts))
		return domain.ErrLeaseLost
	default:
		logger.Warn("Failed to checkpoint operation",
			slog.Int("poll_attempts", attempts),
			slog.Any("error", err),
		)
		return nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
