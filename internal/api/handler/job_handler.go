package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/product-video/internal/api/dto"
	"github.com/cuongbtq/product-video/internal/domain"
	"github.com/cuongbtq/product-video/internal/storage"
	"github.com/cuongbtq/product-video/internal/submission"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// JobHandler serves the video job endpoints
type JobHandler struct {
	logger *slog.Logger
	jobs   JobService
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// CreateJob handles POST /api/v1/accounts/:account_id/video-jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	accountID := c.Param("account_id")

	h.logger.Info("CreateJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("account_id", accountID),
	)

	var req dto.CreateVideoJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		writeError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), submission.Request{
		AccountID:  accountID,
		ProductRef: req.ProductRef,
		ImageURLs:  req.ImageURLs,
		TemplateID: req.TemplateID,
	})
	if err != nil {
		h.writeSubmitError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateVideoJobResponse{JobID: job.ID})
}

func (h *JobHandler) writeSubmitError(c *gin.Context, err error) {
	var validationErr *submission.ValidationError
	var quotaErr *submission.QuotaError

	if submission.IsClientError(err) {
		h.logger.Info("Video job rejected", slog.String("error", err.Error()))
	}

	switch {
	case errors.As(err, &validationErr):
		writeError(c, http.StatusBadRequest, validationErr.Code, validationErr.Message)
	case errors.As(err, &quotaErr):
		c.JSON(http.StatusForbidden, dto.ErrorResponse{
			Error:           submission.CodeLimitReached,
			Message:         quotaErr.Error(),
			UpgradeRequired: true,
		})
	case errors.Is(err, domain.ErrAccountNotFound):
		writeError(c, http.StatusNotFound, "account_not_found", "Account not found")
	case errors.Is(err, submission.ErrDispatchFailed):
		h.logger.Error("Failed to dispatch video job", slog.String("error", err.Error()))
		writeError(c, http.StatusServiceUnavailable, "dispatch_failed", "Failed to dispatch job")
	default:
		h.logger.Error("Failed to create video job", slog.String("error", err.Error()))
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to create job")
	}
}

// GetJob handles GET /api/v1/accounts/:account_id/video-jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	accountID := c.Param("account_id")
	jobID := c.Param("job_id")

	h.logger.Info("GetJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	job, err := h.jobs.Get(c.Request.Context(), accountID, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(c, http.StatusNotFound, "job_not_found", "Job not found")
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to get job")
		return
	}

	c.JSON(http.StatusOK, dto.NewVideoJobDTO(job))
}

// ListJobs handles GET /api/v1/accounts/:account_id/video-jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	accountID := c.Param("account_id")

	h.logger.Info("ListJobs called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListVideoJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		writeError(c, http.StatusBadRequest, "invalid_request", "Invalid query parameters")
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		writeError(c, http.StatusBadRequest, "invalid_cursor", "Invalid cursor")
		return
	}

	jobs, hasMore, err := h.jobs.List(c.Request.Context(), submission.ListQuery{
		AccountID: accountID,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to list jobs")
		return
	}

	resp := dto.ListVideoJobsResponse{Jobs: make([]dto.VideoJobDTO, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = dto.NewVideoJobDTO(job)
	}

	if hasMore && len(jobs) > 0 {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, resp)
}
