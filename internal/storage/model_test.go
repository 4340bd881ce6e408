package storage

import (
	"database/sql"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/product-video/internal/domain"
)

func TestJobRow_ToDomain(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	heartbeat := created.Add(time.Minute)

	row := jobRow{
		ID:              "job-1",
		AccountID:       "shop.example",
		ProductRef:      "gid://shopify/Product/1",
		TemplateID:      "zoom-pan",
		SourceImageURLs: pq.StringArray{"https://cdn/a.png", "https://cdn/b.png"},
		State:           "processing",
		OperationToken:  "tok",
		PollAttempts:    7,
		WorkerID:        "worker-1",
		DeliveryCount:   2,
		CreatedAt:       created,
		UpdatedAt:       created,
		HeartbeatAt:     sql.NullTime{Time: heartbeat, Valid: true},
	}

	job := row.toDomain()
	assert.Equal(t, domain.JobStateProcessing, job.State)
	assert.Equal(t, []string{"https://cdn/a.png", "https://cdn/b.png"}, job.SourceImageURLs)
	assert.Equal(t, 7, job.PollAttempts)
	assert.Equal(t, 2, job.DeliveryCount)
	require.NotNil(t, job.HeartbeatAt)
	assert.Equal(t, heartbeat, *job.HeartbeatAt)

	row.HeartbeatAt = sql.NullTime{}
	assert.Nil(t, row.toDomain().HeartbeatAt)
}

func TestAccountRow_ToDomain(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	row := accountRow{ID: "shop.example", Plan: "basic", VideosUsed: 4, BillingPeriodStart: start}

	account := row.toDomain()
	assert.Equal(t, domain.PlanBasic, account.Plan)
	assert.Equal(t, 4, account.VideosUsed)
	assert.Equal(t, start, account.BillingPeriodStart)
}
