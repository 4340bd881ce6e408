package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuongbtq/product-video/internal/domain"
	"github.com/cuongbtq/product-video/internal/events"
	"github.com/cuongbtq/product-video/internal/generation"
)

// memoryStore mirrors the guarded updates of the SQL store.
type memoryStore struct {
	mu    sync.Mutex
	jobs  map[string]*domain.Job
	usage map[string]int
	now   func() time.Time

	claimErr      error
	checkpointErr error
	completeErr   error
	failErr       error
	checkpoints   []checkpoint
	releases      int
}

type checkpoint struct {
	token    string
	attempts int
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{
		jobs:  make(map[string]*domain.Job),
		usage: make(map[string]int),
		now:   now,
	}
}

func (s *memoryStore) add(job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
}

func (s *memoryStore) get(id string) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memoryStore) usageOf(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[accountID]
}

func (s *memoryStore) ClaimJob(ctx context.Context, jobID, workerID string, staleBefore time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claimErr != nil {
		return nil, s.claimErr
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.State.IsTerminal() {
		return nil, domain.ErrJobFinished
	}

	stale := job.WorkerID == "" || job.HeartbeatAt == nil || job.HeartbeatAt.Before(staleBefore)
	if job.State == domain.JobStateProcessing && !stale {
		return nil, domain.ErrJobInProgress
	}

	now := s.now()
	job.State = domain.JobStateProcessing
	job.WorkerID = workerID
	job.HeartbeatAt = &now
	job.DeliveryCount++
	cp := *job
	return &cp, nil
}

func (s *memoryStore) CheckpointOperation(ctx context.Context, jobID, workerID, token string, pollAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkpointErr != nil {
		return s.checkpointErr
	}
	job := s.jobs[jobID]
	if job.State != domain.JobStateProcessing || job.WorkerID != workerID {
		return domain.ErrLeaseLost
	}
	now := s.now()
	job.OperationToken = token
	job.PollAttempts = pollAttempts
	job.HeartbeatAt = &now
	s.checkpoints = append(s.checkpoints, checkpoint{token: token, attempts: pollAttempts})
	return nil
}

func (s *memoryStore) CompleteJob(ctx context.Context, jobID, videoURL string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completeErr != nil {
		return nil, s.completeErr
	}
	job := s.jobs[jobID]
	if !domain.CanTransition(job.State, domain.JobStateDone) {
		return nil, domain.ErrInvalidTransition
	}
	job.State = domain.JobStateDone
	job.VideoURL = videoURL
	s.usage[job.AccountID]++
	cp := *job
	return &cp, nil
}

func (s *memoryStore) FailJob(ctx context.Context, jobID, message string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return nil, s.failErr
	}
	job := s.jobs[jobID]
	if !domain.CanTransition(job.State, domain.JobStateFailed) {
		return nil, domain.ErrInvalidTransition
	}
	job.State = domain.JobStateFailed
	job.ErrorMessage = message
	cp := *job
	return &cp, nil
}

func (s *memoryStore) ReleaseLease(ctx context.Context, jobID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := s.jobs[jobID]
	if job.State != domain.JobStateProcessing || job.WorkerID != workerID {
		return domain.ErrLeaseLost
	}
	job.WorkerID = ""
	s.releases++
	return nil
}

// scriptedGenerator reports done on doneOnPoll; 0 means never.
type scriptedGenerator struct {
	mu sync.Mutex

	startErr     error
	doneOnPoll   int
	videoRef     string
	errorMessage string
	pollErrs     map[int]error

	startCalls int
	startReqs  []generation.StartRequest
	polled     []generation.Operation
}

func (g *scriptedGenerator) Start(ctx context.Context, req generation.StartRequest) (generation.Operation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.startCalls++
	g.startReqs = append(g.startReqs, req)
	if g.startErr != nil {
		return generation.Operation{}, g.startErr
	}
	return generation.Operation{Name: "operations/op-1", Metadata: json.RawMessage(`{"seq":0}`)}, nil
}

func (g *scriptedGenerator) Poll(ctx context.Context, op generation.Operation) (generation.PollResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.polled = append(g.polled, op)
	n := len(g.polled)
	if err, ok := g.pollErrs[n]; ok {
		return generation.PollResult{}, err
	}

	next := generation.Operation{Name: op.Name, Metadata: json.RawMessage(fmt.Sprintf(`{"seq":%d}`, n))}
	if g.doneOnPoll > 0 && n >= g.doneOnPoll {
		next.Done = true
		return generation.PollResult{
			Done:         true,
			VideoRef:     g.videoRef,
			ErrorMessage: g.errorMessage,
			Operation:    next,
		}, nil
	}
	return generation.PollResult{Operation: next}, nil
}

func (g *scriptedGenerator) pollCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.polled)
}

type stubResolver struct {
	err  error
	refs []string
}

func (r *stubResolver) Resolve(ctx context.Context, ref string) (string, error) {
	r.refs = append(r.refs, ref)
	if r.err != nil {
		return "", r.err
	}
	return "https://signed.example.com/" + ref[len("gs://"):] + "?sig=1", nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Emit(_ context.Context, event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Kind == events.KindStateChanged {
			out = append(out, string(e.From)+"->"+string(e.To))
		}
	}
	return out
}

var errBoom = errors.New("boom")
