package storage

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/cuongbtq/product-video/internal/domain"
)

type jobRow struct {
	ID              string         `db:"id"`
	AccountID       string         `db:"account_id"`
	ProductRef      string         `db:"product_ref"`
	TemplateID      string         `db:"template_id"`
	SourceImageURLs pq.StringArray `db:"source_image_urls"`
	State           string         `db:"state"`
	VideoURL        string         `db:"video_url"`
	ErrorMessage    string         `db:"error_message"`
	OperationToken  string         `db:"operation_token"`
	PollAttempts    int            `db:"poll_attempts"`
	WorkerID        string         `db:"worker_id"`
	DeliveryCount   int            `db:"delivery_count"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	HeartbeatAt     sql.NullTime   `db:"heartbeat_at"`
}

const jobColumns = `
	id, account_id, product_ref, template_id, source_image_urls, state,
	video_url, error_message, operation_token, poll_attempts, worker_id,
	delivery_count, created_at, updated_at, heartbeat_at`

func (r *jobRow) toDomain() *domain.Job {
	job := &domain.Job{
		ID:              r.ID,
		AccountID:       r.AccountID,
		ProductRef:      r.ProductRef,
		TemplateID:      r.TemplateID,
		SourceImageURLs: []string(r.SourceImageURLs),
		State:           domain.JobState(r.State),
		VideoURL:        r.VideoURL,
		ErrorMessage:    r.ErrorMessage,
		OperationToken:  r.OperationToken,
		PollAttempts:    r.PollAttempts,
		WorkerID:        r.WorkerID,
		DeliveryCount:   r.DeliveryCount,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.HeartbeatAt.Valid {
		t := r.HeartbeatAt.Time
		job.HeartbeatAt = &t
	}
	return job
}

type accountRow struct {
	ID                 string    `db:"id"`
	Plan               string    `db:"plan"`
	VideosUsed         int       `db:"videos_used"`
	BillingPeriodStart time.Time `db:"billing_period_start"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

const accountColumns = `id, plan, videos_used, billing_period_start, created_at, updated_at`

func (r *accountRow) toDomain() *domain.Account {
	return &domain.Account{
		ID:                 r.ID,
		Plan:               domain.Plan(r.Plan),
		VideosUsed:         r.VideosUsed,
		BillingPeriodStart: r.BillingPeriodStart,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}
