package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FailureRecorder writes the run ledger around a pipeline execution.
type FailureRecorder struct {
	Store *Store
	Now   func() time.Time
}

// NewRunID returns a short random identifier. Run ids appear in temp file
// names, so they stay free of path separators.
func NewRunID() string {
	return uuid.NewString()[:13]
}

func (r *FailureRecorder) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// StartRun persists run with status running.
func (r *FailureRecorder) StartRun(run Run) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	if run.StartTime.IsZero() {
		run.StartTime = r.now()
	}
	run.Status = RunRunning
	run.EndTime = nil
	return r.Store.SaveRun(run)
}

// FinishRun persists the final state of run.
func (r *FailureRecorder) FinishRun(run Run, status RunStatus) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	if !status.IsFinal() {
		return fmt.Errorf("status %q does not end a run", status)
	}
	end := r.now()
	run.Status = status
	run.EndTime = &end
	if run.Retained == nil {
		run.Retained = []string{}
	}
	return r.Store.SaveRun(run)
}

// RecordFailure classifies err and writes failure.json.
func (r *FailureRecorder) RecordFailure(runID string, err error, retained []string) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	f, ferr := FailureFromError(err, retained)
	if ferr != nil {
		return ferr
	}
	return r.Store.SaveFailure(runID, f)
}
