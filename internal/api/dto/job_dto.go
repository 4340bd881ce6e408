package dto

import (
	"time"

	"github.com/cuongbtq/product-video/internal/domain"
)

type CreateVideoJobRequest struct {
	ProductRef string   `json:"product_ref"`
	ImageURLs  []string `json:"image_urls"`
	TemplateID string   `json:"template_id"`
}

type CreateVideoJobResponse struct {
	JobID string `json:"job_id"`
}

type ListVideoJobsRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListVideoJobsResponse struct {
	Jobs       []VideoJobDTO `json:"jobs"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type VideoJobDTO struct {
	ID              string   `json:"id"`
	ProductRef      string   `json:"product_ref"`
	TemplateID      string   `json:"template_id"`
	State           string   `json:"state"`
	VideoURL        string   `json:"video_url,omitempty"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	SourceImageURLs []string `json:"source_image_urls"`
	CreatedAt       string   `json:"created_at"`
}

// NewVideoJobDTO maps a job to its boundary representation
func NewVideoJobDTO(job *domain.Job) VideoJobDTO {
	urls := job.SourceImageURLs
	if urls == nil {
		urls = []string{}
	}
	return VideoJobDTO{
		ID:              job.ID,
		ProductRef:      job.ProductRef,
		TemplateID:      job.TemplateID,
		State:           string(job.State),
		VideoURL:        job.VideoURL,
		ErrorMessage:    job.ErrorMessage,
		SourceImageURLs: urls,
		CreatedAt:       job.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type ErrorResponse struct {
	Error           string `json:"error"`
	Message         string `json:"message,omitempty"`
	UpgradeRequired bool   `json:"upgrade_required,omitempty"`
}
