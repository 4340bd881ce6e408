// Package submission accepts video generation requests.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/product-video/internal/dispatch"
	"github.com/cuongbtq/product-video/internal/domain"
	"github.com/cuongbtq/product-video/internal/events"
	"github.com/cuongbtq/product-video/internal/quota"
	"github.com/cuongbtq/product-video/internal/storage"
	"github.com/cuongbtq/product-video/internal/template"
)

// Store is the persistence the service needs
type Store interface {
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	CreateJob(ctx context.Context, job *domain.Job) error
	FailJob(ctx context.Context, jobID, message string) (*domain.Job, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]*domain.Job, error)
}

// Request is an inbound generation request
type Request struct {
	AccountID  string
	ProductRef string
	ImageURLs  []string
	TemplateID string
}

// ListQuery selects a page of an account's jobs
type ListQuery struct {
	AccountID string
	PageSize  int
	Cursor    *storage.JobCursor
}

// Service validates requests, enforces quota and hands jobs to dispatch
type Service struct {
	store     Store
	publisher dispatch.Publisher
	sink      events.Sink
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewService creates a new Service
func NewService(store Store, publisher dispatch.Publisher, sink events.Sink, logger *slog.Logger) *Service {
	if sink == nil {
		sink = events.Multi{}
	}
	return &Service{
		store:     store,
		publisher: publisher,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Validate checks a request without touching storage.
func Validate(req Request) error {
	if strings.TrimSpace(req.AccountID) == "" ||
		strings.TrimSpace(req.ProductRef) == "" ||
		strings.TrimSpace(req.TemplateID) == "" ||
		len(req.ImageURLs) < domain.MinSourceImages {
		return &ValidationError{Code: CodeMissingFields, Message: "account, product, template and at least one image are required"}
	}
	for _, u := range req.ImageURLs {
		if strings.TrimSpace(u) == "" {
			return &ValidationError{Code: CodeMissingFields, Message: "image urls must not be empty"}
		}
	}
	if len(req.ImageURLs) > domain.MaxSourceImages {
		return &ValidationError{
			Code:    CodeTooManyImages,
			Message: fmt.Sprintf("at most %d images are allowed, got %d", domain.MaxSourceImages, len(req.ImageURLs)),
		}
	}
	if _, ok := template.Get(req.TemplateID); !ok {
		return &ValidationError{Code: CodeUnknownTemplate, Message: fmt.Sprintf("template not found: %s", req.TemplateID)}
	}
	return nil
}

// Submit validates req, checks quota, creates a queued job and enqueues it.
// Validation and quota failures create nothing. A dispatch failure marks
// the new job failed and returns ErrDispatchFailed.
func (s *Service) Submit(ctx context.Context, req Request) (*domain.Job, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	account, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	if !quota.CanStart(account.Plan, account.VideosUsed) {
		s.logger.Info("Video job rejected - quota exhausted",
			slog.String("account_id", account.ID),
			slog.String("plan", string(account.Plan)),
			slog.Int("videos_used", account.VideosUsed),
		)
		return nil, &QuotaError{Plan: account.Plan, Used: account.VideosUsed, Limit: quota.Limit(account.Plan)}
	}

	urls := make([]string, len(req.ImageURLs))
	for i, u := range req.ImageURLs {
		urls[i] = strings.TrimSpace(u)
	}

	job := domain.NewJob(s.newID(), account.ID, strings.TrimSpace(req.ProductRef), req.TemplateID, urls, s.now().UTC())
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	s.sink.Emit(ctx, events.JobCreated(job, job.CreatedAt))

	if err := s.publisher.Enqueue(ctx, dispatch.MessageFromJob(job)); err != nil {
		s.logger.Error("Failed to enqueue video job",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		message := fmt.Sprintf("%s: %v", ErrDispatchFailed.Error(), err)
		if _, failErr := s.store.FailJob(ctx, job.ID, message); failErr != nil {
			s.logger.Error("Failed to record dispatch failure",
				slog.String("job_id", job.ID),
				slog.Any("error", failErr),
			)
		} else {
			s.sink.Emit(ctx, events.StateChanged(job.ID, job.AccountID, domain.JobStateQueued, domain.JobStateFailed, message, s.now()))
		}
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	s.logger.Info("Video job submitted",
		slog.String("job_id", job.ID),
		slog.String("account_id", job.AccountID),
		slog.String("template_id", job.TemplateID),
		slog.Int("image_count", len(job.SourceImageURLs)),
	)

	return job, nil
}

// Get returns one of the account's jobs
func (s *Service) Get(ctx context.Context, accountID, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrJobNotFound
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AccountID != accountID {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

// List returns a page of the account's jobs, newest first, and whether more
// pages exist.
func (s *Service) List(ctx context.Context, q ListQuery) ([]*domain.Job, bool, error) {
	jobs, err := s.store.ListJobs(ctx, storage.JobFilter{
		AccountID: q.AccountID,
		PageSize:  q.PageSize,
		Cursor:    q.Cursor,
	})
	if err != nil {
		return nil, false, err
	}

	hasMore := len(jobs) > q.PageSize
	if hasMore {
		jobs = jobs[:q.PageSize]
	}
	return jobs, hasMore, nil
}

// IsClientError reports whether err is a rejection of the request itself
func IsClientError(err error) bool {
	var validationErr *ValidationError
	var quotaErr *QuotaError
	return errors.As(err, &validationErr) || errors.As(err, &quotaErr)
}
