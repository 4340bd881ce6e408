package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/product-video/internal/dispatch"
	"github.com/cuongbtq/product-video/internal/domain"
	"github.com/cuongbtq/product-video/internal/processor"
)

type fakeReconcileStore struct {
	stale       []*domain.Job
	staleBefore time.Time
	notReleased map[string]bool
	released    []string
	failed      map[string]string
	listErr     error
}

func (s *fakeReconcileStore) ListStaleJobs(ctx context.Context, staleBefore time.Time, limit int) ([]*domain.Job, error) {
	s.staleBefore = staleBefore
	return s.stale, s.listErr
}

func (s *fakeReconcileStore) ReleaseJob(ctx context.Context, jobID string, staleBefore time.Time) (bool, error) {
	if s.notReleased[jobID] {
		return false, nil
	}
	s.released = append(s.released, jobID)
	return true, nil
}

func (s *fakeReconcileStore) FailJob(ctx context.Context, jobID, message string) (*domain.Job, error) {
	if s.failed == nil {
		s.failed = map[string]string{}
	}
	s.failed[jobID] = message
	return &domain.Job{ID: jobID, State: domain.JobStateFailed}, nil
}

type fakePublisher struct {
	messages []dispatch.Message
	err      error
}

func (p *fakePublisher) Enqueue(ctx context.Context, msg dispatch.Message) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func staleJob(id, token string, polls, deliveries int) *domain.Job {
	return &domain.Job{
		ID:              id,
		AccountID:       "shop.example",
		TemplateID:      "zoom-pan",
		SourceImageURLs: []string{"https://cdn/a.png"},
		State:           domain.JobStateProcessing,
		OperationToken:  token,
		PollAttempts:    polls,
		DeliveryCount:   deliveries,
	}
}

func TestReconciler_ReconcileOnce(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeReconcileStore{
		stale: []*domain.Job{
			staleJob("resume", "tok", 12, 1),
			staleJob("no-token", "", 0, 1),
			staleJob("budget-spent", "tok", 60, 1),
			staleJob("too-many-deliveries", "tok", 5, 5),
			staleJob("raced", "tok", 3, 1),
		},
		notReleased: map[string]bool{"raced": true},
	}
	publisher := &fakePublisher{}

	r := NewReconciler(store, publisher, nil, ReconcilerConfig{LeaseDuration: 2 * time.Minute}, discardLogger())
	r.now = func() time.Time { return now }

	redispatched, failed, err := r.ReconcileOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, redispatched)
	assert.Equal(t, 3, failed)
	assert.Equal(t, now.Add(-2*time.Minute), store.staleBefore)

	require.Len(t, publisher.messages, 1)
	assert.Equal(t, "resume", publisher.messages[0].JobID)
	assert.Equal(t, 1, publisher.messages[0].Attempt)

	assert.Equal(t, map[string]string{
		"no-token":            processor.MsgLeaseExpired,
		"budget-spent":        processor.MsgLeaseExpired,
		"too-many-deliveries": processor.MsgLeaseExpired,
	}, store.failed)
}

func TestReconciler_Errors(t *testing.T) {
	store := &fakeReconcileStore{listErr: errors.New("db down")}
	r := NewReconciler(store, &fakePublisher{}, nil, ReconcilerConfig{}, discardLogger())

	_, _, err := r.ReconcileOnce(context.Background())
	assert.Error(t, err)

	store = &fakeReconcileStore{stale: []*domain.Job{staleJob("resume", "tok", 1, 1)}}
	r = NewReconciler(store, &fakePublisher{err: errors.New("broker down")}, nil, ReconcilerConfig{}, discardLogger())

	redispatched, failed, err := r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, redispatched)
	assert.Zero(t, failed)
}
