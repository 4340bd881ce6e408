package submission

import (
	"errors"
	"fmt"

	"github.com/cuongbtq/product-video/internal/domain"
)

// Validation error codes returned to callers
const (
	CodeMissingFields   = "missing_fields"
	CodeTooManyImages   = "too_many_images"
	CodeUnknownTemplate = "unknown_template"
	CodeLimitReached    = "limit_reached"
)

// ErrDispatchFailed is returned when a created job could not be enqueued
var ErrDispatchFailed = errors.New("failed to dispatch job")

// ValidationError rejects a request before any state is created
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// QuotaError rejects a request from an account that used its plan's videos
// for the current period.
type QuotaError struct {
	Plan  domain.Plan
	Used  int
	Limit int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: plan %s allows %d videos per billing period, %d used",
		CodeLimitReached, e.Plan, e.Limit, e.Used)
}
