package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/cuongbtq/product-video/internal/domain"
)

// JobFilter selects a page of an account's jobs
type JobFilter struct {
	AccountID string
	PageSize  int
	Cursor    *JobCursor
}

// JobCursor is the keyset position of the last job on the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// CreateJob inserts a queued job
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO video_jobs (
			id, account_id, product_ref, template_id,
			source_image_urls, state, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.AccountID,
		job.ProductRef,
		job.TemplateID,
		pq.StringArray(job.SourceImageURLs),
		string(job.State),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by its ID
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM video_jobs WHERE id = $1`

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toDomain(), nil
}

// ListJobs returns up to PageSize+1 jobs, newest first. The extra row tells
// the caller whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM video_jobs WHERE account_id = $1`
	args := []interface{}{filter.AccountID}
	argIdx := 2

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].toDomain())
	}
	return jobs, nil
}

// ClaimJob moves a job to processing for workerID. A queued job is claimed
// outright. A processing job is claimed only when it was released or its
// heartbeat is older than staleBefore, in which case the persisted
// operation token lets the caller resume polling.
//
// When the claim fails the current state decides the error: ErrJobNotFound,
// ErrJobFinished for terminal jobs, ErrJobInProgress otherwise.
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string, staleBefore time.Time) (*domain.Job, error) {
	query := `
		UPDATE video_jobs
		SET state = $1,
		    worker_id = $2,
		    started_at = COALESCE(started_at, NOW()),
		    heartbeat_at = NOW(),
		    delivery_count = delivery_count + 1,
		    updated_at = NOW()
		WHERE id = $3
		  AND (
		        state = $4
		     OR (state = $1 AND (worker_id = '' OR heartbeat_at IS NULL OR heartbeat_at < $5))
		  )
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query,
		string(domain.JobStateProcessing), workerID, jobID, string(domain.JobStateQueued), staleBefore)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to claim job: %w", err)
		}

		current, getErr := s.GetJob(ctx, jobID)
		if getErr != nil {
			return nil, getErr
		}
		if current.State.IsTerminal() {
			return nil, domain.ErrJobFinished
		}

		s.logger.Warn("Failed to claim job - held by another worker",
			slog.String("job_id", jobID),
			slog.String("worker_id", workerID),
			slog.String("holder", current.WorkerID),
		)
		return nil, domain.ErrJobInProgress
	}

	job := row.toDomain()

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.Bool("resuming", job.OperationToken != ""),
		slog.Int("delivery_count", job.DeliveryCount),
	)

	return job, nil
}

// CheckpointOperation stores the latest operation token and poll count and
// refreshes the heartbeat. It fails with ErrLeaseLost when workerID no
// longer holds the job.
func (s *Storage) CheckpointOperation(ctx context.Context, jobID, workerID, token string, pollAttempts int) error {
	query := `
		UPDATE video_jobs
		SET operation_token = $1,
		    poll_attempts = $2,
		    heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE id = $3 AND state = $4 AND worker_id = $5
	`

	result, err := s.db.ExecContext(ctx, query, token, pollAttempts, jobID, string(domain.JobStateProcessing), workerID)
	if err != nil {
		return fmt.Errorf("failed to checkpoint operation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrLeaseLost
	}

	return nil
}

// CompleteJob marks a processing job done and charges one video to its
// account in a single transaction. A job that is no longer processing is
// left untouched and ErrInvalidTransition is returned, so a redelivered
// completion never charges twice.
func (s *Storage) CompleteJob(ctx context.Context, jobID, videoURL string) (*domain.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `
		UPDATE video_jobs
		SET state = $1,
		    video_url = $2,
		    error_message = '',
		    completed_at = NOW(),
		    heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE id = $3 AND state = $4
		RETURNING ` + jobColumns

	var row jobRow
	err = tx.GetContext(ctx, &row, query, string(domain.JobStateDone), videoURL, jobID, string(domain.JobStateProcessing))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}

	usage := `
		UPDATE accounts
		SET videos_used = videos_used + 1,
		    updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, usage, row.AccountID); err != nil {
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job completion: %w", err)
	}

	s.logger.Info("Job completed",
		slog.String("job_id", jobID),
		slog.String("account_id", row.AccountID),
	)

	return row.toDomain(), nil
}

// FailJob marks a non-terminal job failed with message
func (s *Storage) FailJob(ctx context.Context, jobID, message string) (*domain.Job, error) {
	if message == "" {
		message = "unknown error"
	}

	query := `
		UPDATE video_jobs
		SET state = $1,
		    error_message = $2,
		    video_url = '',
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $3 AND state IN ($4, $5)
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query,
		string(domain.JobStateFailed), message, jobID,
		string(domain.JobStateQueued), string(domain.JobStateProcessing))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to fail job: %w", err)
	}

	s.logger.Info("Job failed",
		slog.String("job_id", jobID),
		slog.String("error", message),
	)

	return row.toDomain(), nil
}

// ListStaleJobs returns processing jobs whose heartbeat is older than
// staleBefore, oldest first.
func (s *Storage) ListStaleJobs(ctx context.Context, staleBefore time.Time, limit int) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM video_jobs
		WHERE state = $1 AND heartbeat_at < $2
		ORDER BY heartbeat_at ASC
		LIMIT $3`

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, string(domain.JobStateProcessing), staleBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].toDomain())
	}
	return jobs, nil
}

// ReleaseJob drops the lease of a stale processing job so the next delivery
// can claim it at once. It reports false when the job is no longer stale.
func (s *Storage) ReleaseJob(ctx context.Context, jobID string, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE video_jobs
		SET worker_id = '',
		    heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND state = $2 AND heartbeat_at < $3
	`

	result, err := s.db.ExecContext(ctx, query, jobID, string(domain.JobStateProcessing), staleBefore)
	if err != nil {
		return false, fmt.Errorf("failed to release job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ReleaseLease clears workerID's hold on a processing job so a redelivery
// can claim it before the lease would lapse. It fails with ErrLeaseLost
// when workerID no longer holds the job.
func (s *Storage) ReleaseLease(ctx context.Context, jobID, workerID string) error {
	query := `
		UPDATE video_jobs
		SET worker_id = '',
		    updated_at = NOW()
		WHERE id = $1 AND state = $2 AND worker_id = $3
	`

	result, err := s.db.ExecContext(ctx, query, jobID, string(domain.JobStateProcessing), workerID)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrLeaseLost
	}

	s.logger.Info("Job lease released",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
	)

	return nil
}
