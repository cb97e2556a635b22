package cli

import (
	"errors"
	"fmt"

	"diffrsp/internal/core"
	"diffrsp/internal/recovery/state"
)

const (
	ExitSuccess           = 0
	ExitWorkerFailure     = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
	ExitMergeFailure      = 5
	ExitPartial           = 6
)

// InvocationError carries a message and the exit code it maps to.
type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configErrorf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf(format, args...)}
}

// ExitCode maps err to a semantic exit code.
//
// Merge failures outrank worker failures: a partial run whose merge failed
// carries both.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	switch {
	case errors.Is(err, core.ErrMetadata), errors.Is(err, core.ErrInvalidPartition), errors.Is(err, state.ErrNotMergeable):
		return ExitConfigError
	case errors.Is(err, core.ErrMerge):
		return ExitMergeFailure
	case errors.Is(err, core.ErrWorker):
		return ExitWorkerFailure
	default:
		return ExitInternalError
	}
}

// outcomeExitCode is ExitCode adjusted for a run that ended partial: its
// error lists the failed intervals but the output was written.
func outcomeExitCode(status state.RunStatus, err error) int {
	if status == state.RunPartial {
		return ExitPartial
	}
	return ExitCode(err)
}
