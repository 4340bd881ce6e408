package handler

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/product-video/internal/api/dto"
	"github.com/cuongbtq/product-video/internal/billing"
)

// CronHandler serves scheduled maintenance endpoints
type CronHandler struct {
	logger   *slog.Logger
	accounts AccountService
	secret   string
}

// NewCronHandler creates a new CronHandler
func NewCronHandler(deps *Dependencies) *CronHandler {
	return &CronHandler{
		logger:   deps.Logger,
		accounts: deps.Accounts,
		secret:   deps.CronSecret,
	}
}

// ResetBilling handles GET and POST /api/v1/cron/reset-billing
func (h *CronHandler) ResetBilling(c *gin.Context) {
	if !h.authorized(c.GetHeader("Authorization")) {
		h.logger.Warn("Cron request rejected - bad bearer token",
			slog.String("remote_addr", c.ClientIP()),
		)
		writeError(c, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	n, err := h.accounts.ResetExpiredPeriods(c.Request.Context())
	if err != nil {
		if errors.Is(err, billing.ErrSweepInProgress) {
			writeError(c, http.StatusConflict, "sweep_in_progress", err.Error())
			return
		}
		h.logger.Error("Failed to reset billing periods", slog.String("error", err.Error()))
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to reset billing periods")
		return
	}

	c.JSON(http.StatusOK, dto.ResetBillingResponse{Reset: n})
}

// An unset secret rejects every request.
func (h *CronHandler) authorized(header string) bool {
	if h.secret == "" {
		return false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}
