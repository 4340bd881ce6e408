package dto

import (
	"time"

	"github.com/cuongbtq/product-video/internal/domain"
	"github.com/cuongbtq/product-video/internal/quota"
)

type ChangePlanRequest struct {
	Plan string `json:"plan" binding:"required"`
}

type AccountDTO struct {
	AccountID          string `json:"account_id"`
	Plan               string `json:"plan"`
	VideosUsed         int    `json:"videos_used"`
	VideoLimit         int    `json:"video_limit"`
	Remaining          int    `json:"remaining"`
	BillingPeriodStart string `json:"billing_period_start"`
}

// NewAccountDTO maps an account and its quota to the boundary representation
func NewAccountDTO(account *domain.Account) AccountDTO {
	return AccountDTO{
		AccountID:          account.ID,
		Plan:               string(account.Plan),
		VideosUsed:         account.VideosUsed,
		VideoLimit:         quota.Limit(account.Plan),
		Remaining:          quota.Remaining(account.Plan, account.VideosUsed),
		BillingPeriodStart: account.BillingPeriodStart.UTC().Format(time.RFC3339),
	}
}

type ResetBillingResponse struct {
	Reset int64 `json:"reset"`
}
