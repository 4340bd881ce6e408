package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/product-video/internal/api/dto"
	"github.com/cuongbtq/product-video/internal/dispatch"
	"github.com/cuongbtq/product-video/internal/domain"
	"github.com/cuongbtq/product-video/internal/submission"
)

// JobService submits and queries video jobs
type JobService interface {
	Submit(ctx context.Context, req submission.Request) (*domain.Job, error)
	Get(ctx context.Context, accountID, jobID string) (*domain.Job, error)
	List(ctx context.Context, q submission.ListQuery) ([]*domain.Job, bool, error)
}

// AccountService manages accounts and billing periods
type AccountService interface {
	EnsureAccount(ctx context.Context, accountID string) (*domain.Account, bool, error)
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	ChangePlan(ctx context.Context, accountID string, plan domain.Plan) (*domain.Account, error)
	DeleteAccount(ctx context.Context, accountID string) error
	ResetExpiredPeriods(ctx context.Context) (int64, error)
}

// SignatureVerifier authenticates signed deliveries
type SignatureVerifier interface {
	Verify(signature string, body []byte) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Jobs        JobService
	Accounts    AccountService
	Deliveries  dispatch.Publisher
	Verifier    SignatureVerifier
	Metrics     http.Handler
	ServiceName string

	// Ready reports whether backing services answer. Nil means always ready.
	Ready func(ctx context.Context) error

	// SkipSignatureVerification accepts unsigned deliveries. Development only.
	SkipSignatureVerification bool
	CronSecret                string
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, dto.ErrorResponse{Error: code, Message: message})
}
