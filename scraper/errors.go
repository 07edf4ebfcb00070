package scraper

import (
	"errors"

	"condoreconcile/models"
)

// Sentinel errors the orchestrator's control methods return; api translates
// each to the exit code / HTTP status pair via ExitCodeFor.
var (
	ErrTaskNotFound = errors.New("scraper: task not found")
	ErrPreconditionFailed = errors.New("scraper: task not in a state that allows this operation")
	ErrConflict = errors.New("scraper: task already has an operation in flight")
	ErrBadInput = errors.New("scraper: invalid request")
)

// ExitCodeFor maps a control-method error (or nil) onto the exit code
// table. Unrecognized non-nil errors are treated as a generic failure with
// ExitPreconditionFailed, since every documented control-flow failure
// is one of the four sentinels above.
func ExitCodeFor(err error) models.ExitCode {
	switch {
	case err == nil:
		return models.ExitOK
	case errors.Is(err, ErrBadInput):
		return models.ExitBadInput
	case errors.Is(err, ErrTaskNotFound):
		return models.ExitNotFound
	case errors.Is(err, ErrPreconditionFailed):
		return models.ExitPreconditionFailed
	case errors.Is(err, ErrConflict):
		return models.ExitConflict
	default:
		return models.ExitPreconditionFailed
	}
}
