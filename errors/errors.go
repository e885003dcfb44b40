package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryFetch     Category = "fetch"
	CategoryDecode    Category = "decode"
	CategoryPipeline  Category = "pipeline"
	CategoryCache     Category = "cache"
	CategoryPool      Category = "pool"
	CategoryConfig    Category = "config"
	CategoryTransient Category = "transient"
)

// LoadError is the structured error type used throughout the module.
type LoadError struct {
	Category  Category
	Op        string // operation name
	Err       error
	Retryable bool
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// New creates a non-retryable LoadError.
func New(category Category, op string, err error) *LoadError {
	return &LoadError{Category: category, Op: op, Err: err}
}

// Transient creates a retryable LoadError.
func Transient(op string, err error) *LoadError {
	return &LoadError{Category: CategoryTransient, Op: op, Err: err, Retryable: true}
}

// Wrap wraps an existing error with context.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsRetryable reports whether err represents a transient failure.
func IsRetryable(err error) bool {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Category == cat
	}
	return false
}

// Sentinel errors for common failure modes.
var (
	ErrNoDecoder         = errors.New("no decoder registered for requested id")
	ErrNoTransform       = errors.New("no transform registered for requested id")
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrEmptySource       = errors.New("source returned no data")
	ErrLoadCancelled     = errors.New("load cancelled")
	ErrQueueFull         = errors.New("executor queue full")
	ErrSourceTooLarge    = errors.New("source exceeds configured size limit")
)
