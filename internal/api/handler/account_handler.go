package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/product-video/internal/api/dto"
	"github.com/cuongbtq/product-video/internal/billing"
	"github.com/cuongbtq/product-video/internal/domain"
)

// AccountHandler serves account and plan endpoints
type AccountHandler struct {
	logger   *slog.Logger
	accounts AccountService
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(deps *Dependencies) *AccountHandler {
	return &AccountHandler{
		logger:   deps.Logger,
		accounts: deps.Accounts,
	}
}

// EnsureAccount handles PUT /api/v1/accounts/:account_id
func (h *AccountHandler) EnsureAccount(c *gin.Context) {
	accountID := c.Param("account_id")

	account, created, err := h.accounts.EnsureAccount(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("Failed to ensure account",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to create account")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, dto.NewAccountDTO(account))
}

// GetAccount handles GET /api/v1/accounts/:account_id
func (h *AccountHandler) GetAccount(c *gin.Context) {
	account, err := h.accounts.GetAccount(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		h.writeAccountError(c, err, "Failed to get account")
		return
	}
	c.JSON(http.StatusOK, dto.NewAccountDTO(account))
}

// ChangePlan handles POST /api/v1/accounts/:account_id/plan
func (h *AccountHandler) ChangePlan(c *gin.Context) {
	accountID := c.Param("account_id")

	var req dto.ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		writeError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	account, err := h.accounts.ChangePlan(c.Request.Context(), accountID, domain.Plan(req.Plan))
	if err != nil {
		h.writeAccountError(c, err, "Failed to change plan")
		return
	}

	h.logger.Info("Account plan changed",
		slog.String("account_id", accountID),
		slog.String("plan", req.Plan),
	)
	c.JSON(http.StatusOK, dto.NewAccountDTO(account))
}

// DeleteAccount handles DELETE /api/v1/accounts/:account_id
func (h *AccountHandler) DeleteAccount(c *gin.Context) {
	if err := h.accounts.DeleteAccount(c.Request.Context(), c.Param("account_id")); err != nil {
		h.writeAccountError(c, err, "Failed to delete account")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AccountHandler) writeAccountError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		writeError(c, http.StatusNotFound, "account_not_found", "Account not found")
	case errors.Is(err, billing.ErrInvalidPlan):
		writeError(c, http.StatusBadRequest, "invalid_plan", err.Error())
	default:
		h.logger.Error(message, slog.String("error", err.Error()))
		writeError(c, http.StatusInternalServerError, "internal_error", message)
	}
}
