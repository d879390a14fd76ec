package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrIllegalTransition is returned when a status change is not in the transition table.
var ErrIllegalTransition = errors.New("illegal document status transition")

// DuplicateDocumentError means a document with the same name is already stored or in flight.
type DuplicateDocumentError struct {
	Name string
}

func (e *DuplicateDocumentError) Error() string {
	return "File with same name already exists"
}

// ExtractionError means no usable text could be read from the file.
type ExtractionError struct {
	FileName    string
	ContentType string
	Err         error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("could not process file %s (%s)", e.FileName, e.ContentType)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// QuotaExceededError carries the remaining allowance for the rejected request.
type QuotaExceededError struct {
	Resource  string
	Limit     int
	Current   int
	Requested int
}

func (e *QuotaExceededError) Remaining() int {
	if r := e.Limit - e.Current; r > 0 {
		return r
	}
	return 0
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded: requested %d, you can add %d more (limit %d)",
		e.Resource, e.Requested, e.Remaining(), e.Limit)
}

// NotFoundError is returned for missing documents, blobs and sessions.
type NotFoundError struct {
	Resource string
	Name     string
	Message  string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
}

// StoreWriteError is a failed forward write against one backing store.
type StoreWriteError struct {
	Service string
	Err     error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("service: %s, error: %v", e.Service, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// StoreDeleteError is a failed delete against one backing store.
type StoreDeleteError struct {
	Service string
	Err     error
}

func (e *StoreDeleteError) Error() string {
	return fmt.Sprintf("service: %s, error: %v", e.Service, e.Err)
}

func (e *StoreDeleteError) Unwrap() error { return e.Err }

// NoPriorResponseError is returned by rewrite modes when history has no AI turn.
type NoPriorResponseError struct{}

func (e *NoPriorResponseError) Error() string {
	return "No AI response found in chat history"
}

// RateLimitError is a 429 class failure from a model provider.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (status %d): %s", e.StatusCode, e.Body)
}

// RetryHint is the server suggested wait, zero when absent.
func (e *RateLimitError) RetryHint() time.Duration { return e.RetryAfter }

// IsRateLimit reports whether err is, or wraps, a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// StoreErrors aggregates the per store failures of one document operation.
type StoreErrors struct {
	Failures []error
}

func (e *StoreErrors) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return strings.Join(parts, " | ")
}

func (e *StoreErrors) Unwrap() []error { return e.Failures }

// InvalidInputError is a malformed request value, such as an unparsable Drive link.
type InvalidInputError struct {
	Message string
}

func (e *InvalidInputError) Error() string { return e.Message }
