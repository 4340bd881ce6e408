// Package events publishes job lifecycle events to logs and metrics.
package events

import (
	"context"
	"time"

	"github.com/cuongbtq/product-video/internal/domain"
)

// Kind identifies an event
type Kind string

const (
	KindJobCreated   Kind = "job_created"
	KindStateChanged Kind = "state_changed"
	KindPollAttempt  Kind = "poll_attempt"
)

// Poll outcomes
const (
	PollPending = "pending"
	PollDone    = "done"
	PollError   = "error"
)

// Event is a structured job lifecycle event
type Event struct {
	Kind      Kind
	JobID     string
	AccountID string
	From      domain.JobState
	To        domain.JobState
	Attempt   int
	Outcome   string
	Message   string
	At        time.Time
}

// Sink receives events. Emit must not block on slow backends.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Multi fans an event out to several sinks. A zero Multi discards events.
type Multi []Sink

// Emit sends event to every sink
func (m Multi) Emit(ctx context.Context, event Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}

// JobCreated builds a KindJobCreated event
func JobCreated(job *domain.Job, at time.Time) Event {
	return Event{
		Kind:      KindJobCreated,
		JobID:     job.ID,
		AccountID: job.AccountID,
		To:        job.State,
		At:        at,
	}
}

// StateChanged builds a KindStateChanged event
func StateChanged(jobID, accountID string, from, to domain.JobState, message string, at time.Time) Event {
	return Event{
		Kind:      KindStateChanged,
		JobID:     jobID,
		AccountID: accountID,
		From:      from,
		To:        to,
		Message:   message,
		At:        at,
	}
}

// PollAttempted builds a KindPollAttempt event
func PollAttempted(jobID, accountID string, attempt int, outcome string, at time.Time) Event {
	return Event{
		Kind:      KindPollAttempt,
		JobID:     jobID,
		AccountID: accountID,
		Attempt:   attempt,
		Outcome:   outcome,
		At:        at,
	}
}
