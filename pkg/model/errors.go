package model

import "fmt"

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrConflict   ErrorCode = "CONFLICT"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the Reflow API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Code, e.Message)
	for _, d := range e.Details {
		s += "; " + d.String()
	}
	return s
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// String prefixes the message with the tree path or field name when set.
func (e FieldError) String() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrInternal, Message: msg}
}

// InvalidTransitionError is returned when a state transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}

// NoBoundaryError is the fatal error raised when a unit of work suspends and
// no enclosing boundary provides a fallback. The update that hit it is
// dropped rather than retried.
type NoBoundaryError struct {
	UpdateID string
	Path     string
	Resource string
}

func (e *NoBoundaryError) Error() string {
	return fmt.Sprintf("work at %s suspended on resource '%s' but no fallback UI was available above it (update %s)",
		e.Path, e.Resource, e.UpdateID)
}

// RenderError wraps a component render failure with the path it occurred at.
// The scheduler retries the failing unit once before letting a RenderError
// propagate to the nearest error-handling ancestor.
type RenderError struct {
	Path string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed at %s: %v", e.Path, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
