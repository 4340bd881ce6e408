// Package dispatch carries video jobs from submission to the worker pool.
package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cuongbtq/product-video/internal/domain"
)

// Message is the unit of work delivered to the processor.
type Message struct {
	JobID           string   `json:"job_id"`
	AccountID       string   `json:"account_id"`
	SourceImageURLs []string `json:"source_image_urls"`
	TemplateID      string   `json:"template_id"`
	// Attempt is the 1-based delivery attempt.
	Attempt int `json:"attempt,omitempty"`
}

// MessageFromJob builds the first delivery for a freshly created job
func MessageFromJob(job *domain.Job) Message {
	urls := make([]string, len(job.SourceImageURLs))
	copy(urls, job.SourceImageURLs)
	return Message{
		JobID:           job.ID,
		AccountID:       job.AccountID,
		SourceImageURLs: urls,
		TemplateID:      job.TemplateID,
		Attempt:         1,
	}
}

// Validate checks the fields every delivery must carry.
func (m Message) Validate() error {
	if m.JobID == "" || m.AccountID == "" || m.TemplateID == "" {
		return fmt.Errorf("%w: job_id, account_id and template_id are required", domain.ErrInvalidPayload)
	}
	if _, err := uuid.Parse(m.JobID); err != nil {
		return fmt.Errorf("%w: job_id %q is not a uuid", domain.ErrInvalidPayload, m.JobID)
	}
	if len(m.SourceImageURLs) < domain.MinSourceImages || len(m.SourceImageURLs) > domain.MaxSourceImages {
		return fmt.Errorf("%w: expected %d-%d source images, got %d",
			domain.ErrInvalidPayload, domain.MinSourceImages, domain.MaxSourceImages, len(m.SourceImageURLs))
	}
	return nil
}

// Decode parses and validates a message body. A missing attempt counts as
// the first.
func Decode(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	if msg.Attempt <= 0 {
		msg.Attempt = 1
	}
	return msg, nil
}

// Encode serializes the message.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
