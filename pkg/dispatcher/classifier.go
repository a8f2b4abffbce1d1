package dispatcher

import (
	"context"
	"errors"

	"github.com/njavilas2015/onbbu/pkg/core"
)

// Classifier turns a failure raised by a contract pipeline into a response. origin is the
// dispatcher subject and stage the contract name.
type Classifier func(ctx context.Context, origin, stage string, err error) (*core.Response, error)

// DefaultClassifier maps the typed failures of package core onto the status taxonomy.
// Internal and unrecognised failures get the generic message so no detail leaks.
func DefaultClassifier(_ context.Context, _, _ string, err error) (*core.Response, error) {
	var (
		internal  *core.InternalError
		anonymous *core.NotAuthenticatedError
		notFound  *core.NotFoundError
		invalid   *core.ValidationError
	)
	switch {
	case errors.As(err, &internal):
		return core.Fail(core.StatusError, core.InternalErrorMessage), nil
	case errors.As(err, &anonymous):
		return core.Fail(core.StatusNotAuthenticated, anonymous.Message), nil
	case errors.As(err, &notFound):
		return core.Fail(core.StatusNotFound, notFound.Message), nil
	case errors.As(err, &invalid):
		return core.Fail(core.StatusValidationError, invalid.Message), nil
	default:
		return core.Fail(core.StatusError, core.InternalErrorMessage), nil
	}
}
