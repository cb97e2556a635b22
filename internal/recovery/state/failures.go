package state

import (
	"errors"

	"diffrsp/internal/core"
)

// FailureFromError classifies a pipeline error into a Failure record.
// retained is copied into the record.
func FailureFromError(err error, retained []string) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}
	f := Failure{
		ErrorMessage: err.Error(),
		Retained:     append([]string{}, retained...),
		Stage:        core.StageOf(err),
	}

	for _, we := range core.WorkerErrors(err) {
		f.Intervals = append(f.Intervals, FailedInterval{
			Number:   we.Index + 1,
			Interval: we.Interval,
			Stage:    we.Stage,
			ExitCode: we.ExitCode,
			Signal:   we.Signal,
			Stderr:   we.Stderr,
		})
	}

	// A merge failure outranks the worker failures joined with it: every
	// completed worker output is still on disk.
	switch {
	case errors.Is(err, core.ErrMerge):
		f.FailureClass = FailureClassMerge
		f.Stage = core.StageMerge
		f.Mergeable = len(retained) > 0

	case errors.Is(err, core.ErrMetadata), errors.Is(err, core.ErrInvalidPartition):
		f.FailureClass = FailureClassInput

	case errors.Is(err, core.ErrWorker):
		f.FailureClass = FailureClassWorker

	default:
		f.FailureClass = FailureClassSystem
	}
	return f, nil
}
