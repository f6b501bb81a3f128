package service

import (
	"context"
	"errors"

	"veltrix/internal/errs"
	"veltrix/internal/repository"
)

// storeErr classifies a repository error for the handler layer. Errors that
// already carry a kind pass through untouched.
func storeErr(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	var typed *errs.E
	if errors.As(err, &typed) {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return errs.New(errs.KindNotFound, errs.WithOp(op), errs.WithMessage(entity+" not found"), errs.WithCause(err))
	case errors.Is(err, repository.ErrDuplicate):
		return errs.New(errs.KindConflict, errs.WithOp(op), errs.WithMessage(entity+" already exists"), errs.WithCause(err))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errs.Upstream(op, "storage did not respond in time", err)
	default:
		return errs.Persistence(op, err)
	}
}
