package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/product-video/internal/dispatch"
	"github.com/cuongbtq/product-video/internal/domain"
	"github.com/cuongbtq/product-video/internal/submission"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeJobService struct {
	submitted []submission.Request
	submitJob *domain.Job
	submitErr error

	job    *domain.Job
	getErr error

	page     []*domain.Job
	hasMore  bool
	listErr  error
	lastList submission.ListQuery
}

func (f *fakeJobService) Submit(_ context.Context, req submission.Request) (*domain.Job, error) {
	f.submitted = append(f.submitted, req)
	return f.submitJob, f.submitErr
}

func (f *fakeJobService) Get(_ context.Context, _, _ string) (*domain.Job, error) {
	return f.job, f.getErr
}

func (f *fakeJobService) List(_ context.Context, q submission.ListQuery) ([]*domain.Job, bool, error) {
	f.lastList = q
	return f.page, f.hasMore, f.listErr
}

type fakeAccountService struct {
	account *domain.Account
	created bool
	err     error

	plan    domain.Plan
	deleted []string

	reset    int64
	resetErr error
	sweeps   int
}

func (f *fakeAccountService) EnsureAccount(_ context.Context, _ string) (*domain.Account, bool, error) {
	return f.account, f.created, f.err
}

func (f *fakeAccountService) GetAccount(_ context.Context, _ string) (*domain.Account, error) {
	return f.account, f.err
}

func (f *fakeAccountService) ChangePlan(_ context.Context, _ string, plan domain.Plan) (*domain.Account, error) {
	f.plan = plan
	if f.err != nil {
		return nil, f.err
	}
	return f.account, nil
}

func (f *fakeAccountService) DeleteAccount(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAccountService) ResetExpiredPeriods(_ context.Context) (int64, error) {
	f.sweeps++
	return f.reset, f.resetErr
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []dispatch.Message
	err      error
}

func (p *fakePublisher) Enqueue(_ context.Context, msg dispatch.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func perform(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
