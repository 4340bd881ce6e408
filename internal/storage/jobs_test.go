package storage

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/product-video/internal/domain"
)

const (
	testJobID    = "0b8f0c0e-1d7a-4c55-9f61-4f0b1b1f6a11"
	testWorkerID = "worker-a"
)

var testJobColumns = []string{
	"id", "account_id", "product_ref", "template_id", "source_image_urls", "state",
	"video_url", "error_message", "operation_token", "poll_attempts", "worker_id",
	"delivery_count", "created_at", "updated_at", "heartbeat_at",
}

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStorage(sqlx.NewDb(db, "postgres"), logger), mock
}

// sqlFragments matches the fragments in order, anywhere in the statement.
func sqlFragments(fragments ...string) string {
	quoted := make([]string, len(fragments))
	for i, f := range fragments {
		quoted[i] = regexp.QuoteMeta(f)
	}
	return strings.Join(quoted, ".*")
}

func jobRows(state domain.JobState, workerID string, now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(testJobColumns).AddRow(
		testJobID, "shop.example", "gid://shopify/Product/1", "zoom-pan", "{https://cdn/a.png}", string(state),
		"", "", "", 0, workerID,
		1, now, now, now,
	)
}

func TestClaimJob_StaleLeasePredicate(t *testing.T) {
	store, mock := newMockStorage(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	staleBefore := now.Add(-2 * time.Minute)

	mock.ExpectQuery(sqlFragments(
		"UPDATE video_jobs",
		"delivery_count = delivery_count + 1",
		"WHERE id = $3",
		"state = $4",
		"OR (state = $1 AND (worker_id = '' OR heartbeat_at IS NULL OR heartbeat_at < $5))",
	)).
		WithArgs("processing", testWorkerID, testJobID, "queued", staleBefore).
		WillReturnRows(jobRows(domain.JobStateProcessing, testWorkerID, now))

	job, err := store.ClaimJob(context.Background(), testJobID, testWorkerID, staleBefore)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateProcessing, job.State)
	assert.Equal(t, testWorkerID, job.WorkerID)
	assert.Equal(t, []string{"https://cdn/a.png"}, job.SourceImageURLs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJob_NotClaimable(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		current domain.JobState
		wantErr error
	}{
		{name: "held by a live worker", current: domain.JobStateProcessing, wantErr: domain.ErrJobInProgress},
		{name: "already done", current: domain.JobStateDone, wantErr: domain.ErrJobFinished},
		{name: "already failed", current: domain.JobStateFailed, wantErr: domain.ErrJobFinished},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStorage(t)

			mock.ExpectQuery(sqlFragments("UPDATE video_jobs")).
				WillReturnRows(sqlmock.NewRows(testJobColumns))
			mock.ExpectQuery(sqlFragments("FROM video_jobs WHERE id = $1")).
				WithArgs(testJobID).
				WillReturnRows(jobRows(tt.current, "worker-b", now))

			_, err := store.ClaimJob(context.Background(), testJobID, testWorkerID, now.Add(-time.Minute))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCompleteJob_ChargesUsageInSameTransaction(t *testing.T) {
	store, mock := newMockStorage(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	videoURL := "https://signed.example.com/out.mp4"

	mock.ExpectBegin()
	mock.ExpectQuery(sqlFragments("UPDATE video_jobs", "WHERE id = $3 AND state = $4", "RETURNING")).
		WithArgs("done", videoURL, testJobID, "processing").
		WillReturnRows(jobRows(domain.JobStateDone, testWorkerID, now))
	mock.ExpectExec(sqlFragments("UPDATE accounts", "videos_used = videos_used + 1", "WHERE id = $1")).
		WithArgs("shop.example").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := store.CompleteJob(context.Background(), testJobID, videoURL)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateDone, job.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteJob_NotProcessingIsNotCharged(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(sqlFragments("UPDATE video_jobs", "WHERE id = $3 AND state = $4")).
		WithArgs("done", "https://signed.example.com/out.mp4", testJobID, "processing").
		WillReturnRows(sqlmock.NewRows(testJobColumns))
	mock.ExpectRollback()

	_, err := store.CompleteJob(context.Background(), testJobID, "https://signed.example.com/out.mp4")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailJob_TerminalGuard(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectQuery(sqlFragments("UPDATE video_jobs", "WHERE id = $3 AND state IN ($4, $5)")).
		WithArgs("failed", "boom", testJobID, "queued", "processing").
		WillReturnRows(sqlmock.NewRows(testJobColumns))

	_, err := store.FailJob(context.Background(), testJobID, "boom")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseLease(t *testing.T) {
	query := sqlFragments("SET worker_id = ''", "WHERE id = $1 AND state = $2 AND worker_id = $3")

	t.Run("held by worker", func(t *testing.T) {
		store, mock := newMockStorage(t)
		mock.ExpectExec(query).
			WithArgs(testJobID, "processing", testWorkerID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, store.ReleaseLease(context.Background(), testJobID, testWorkerID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lease already lost", func(t *testing.T) {
		store, mock := newMockStorage(t)
		mock.ExpectExec(query).
			WithArgs(testJobID, "processing", testWorkerID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, store.ReleaseLease(context.Background(), testJobID, testWorkerID), domain.ErrLeaseLost)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
