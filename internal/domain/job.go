package domain

import "time"

// Job is one video generation request and its tracked lifecycle.
type Job struct {
	ID              string
	AccountID       string
	ProductRef      string
	TemplateID      string
	SourceImageURLs []string
	State           JobState
	VideoURL        string
	ErrorMessage    string
	// OperationToken is the opaque continuation of the external operation,
	// checkpointed after every poll so a later worker can resume polling.
	OperationToken string
	PollAttempts   int
	WorkerID       string
	DeliveryCount  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	HeartbeatAt    *time.Time
}

// NewJob builds a queued job for the given request.
func NewJob(id, accountID, productRef, templateID string, imageURLs []string, now time.Time) *Job {
	urls := make([]string, len(imageURLs))
	copy(urls, imageURLs)
	return &Job{
		ID:              id,
		AccountID:       accountID,
		ProductRef:      productRef,
		TemplateID:      templateID,
		SourceImageURLs: urls,
		State:           JobStateQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// CanTransition reports whether a job may move from one state to another.
func CanTransition(from, to JobState) bool {
	switch from {
	case JobStateQueued:
		return to == JobStateProcessing || to == JobStateFailed
	case JobStateProcessing:
		return to == JobStateDone || to == JobStateFailed
	default:
		return false
	}
}
