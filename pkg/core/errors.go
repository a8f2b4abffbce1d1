package core

import "errors"

// InternalError marks a failure whose detail must never reach the caller.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string { return e.Message }

// NotFoundError marks a missing resource.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// NotPermittedError marks a forbidden operation. The default classifier does not map it;
// host classifiers may.
type NotPermittedError struct {
	Message string
}

func (e *NotPermittedError) Error() string { return e.Message }

// ValidationError marks invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotAuthenticatedError marks a missing or invalid credential.
type NotAuthenticatedError struct {
	Message string
}

func (e *NotAuthenticatedError) Error() string { return e.Message }

func NewInternalError(message string) error         { return &InternalError{Message: message} }
func NewNotFoundError(message string) error         { return &NotFoundError{Message: message} }
func NewNotPermittedError(message string) error     { return &NotPermittedError{Message: message} }
func NewValidationError(message string) error       { return &ValidationError{Message: message} }
func NewNotAuthenticatedError(message string) error { return &NotAuthenticatedError{Message: message} }

// StatusOf returns the taxonomy member an error belongs to, unwrapping as needed.
// Unknown errors map to StatusError.
func StatusOf(err error) StatusCode {
	var (
		internal  *InternalError
		notFound  *NotFoundError
		forbidden *NotPermittedError
		invalid   *ValidationError
		anonymous *NotAuthenticatedError
	)
	switch {
	case err == nil:
		return StatusSuccess
	case errors.As(err, &internal):
		return StatusError
	case errors.As(err, &anonymous):
		return StatusNotAuthenticated
	case errors.As(err, &notFound):
		return StatusNotFound
	case errors.As(err, &invalid):
		return StatusValidationError
	case errors.As(err, &forbidden):
		return StatusNotPermitted
	default:
		return StatusError
	}
}
