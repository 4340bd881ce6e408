// Package generation adapts the external video synthesis service.
//
// A generation is a long-running operation: Start returns an Operation
// handle, and Poll is called with the latest handle until it reports done.
// The handle returned by each Poll replaces the previous one.
package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrGenerationStart is returned when an operation could not be started
	ErrGenerationStart = errors.New("generation start failed")

	// ErrPoll is returned when an operation's status could not be read
	ErrPoll = errors.New("generation poll failed")

	// ErrInvalidToken is returned when an operation token cannot be decoded
	ErrInvalidToken = errors.New("invalid operation token")
)

// StartRequest describes one generation.
type StartRequest struct {
	Prompt             string
	ReferenceImageURLs []string
	DurationSeconds    int
	AspectRatio        string
}

// Operation is the opaque handle of one in-flight external operation.
type Operation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// PollResult is the outcome of one status check.
type PollResult struct {
	Done         bool
	VideoRef     string
	ErrorMessage string
	Operation    Operation
}

// Client starts and polls generation operations.
type Client interface {
	Start(ctx context.Context, req StartRequest) (Operation, error)
	Poll(ctx context.Context, op Operation) (PollResult, error)
}

// Token encodes the operation into a string that can be stored with a job.
func (o Operation) Token() (string, error) {
	if o.Name == "" {
		return "", fmt.Errorf("%w: operation has no name", ErrInvalidToken)
	}
	data, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("failed to encode operation: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// ParseToken decodes a token produced by Operation.Token.
func ParseToken(token string) (Operation, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if op.Name == "" {
		return Operation{}, fmt.Errorf("%w: operation has no name", ErrInvalidToken)
	}
	return op, nil
}
