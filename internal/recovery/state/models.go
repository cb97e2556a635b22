// Package state is the run ledger: what each run was asked to do, what
// became of every interval, and which temporary files it left behind.
package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"diffrsp/internal/core"
)

type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunSucceeded   RunStatus = "succeeded"
	RunPartial     RunStatus = "partial"
	RunFailed      RunStatus = "failed"
	RunMergeFailed RunStatus = "merge_failed"
)

// IsFinal reports whether the status ends a run.
func (s RunStatus) IsFinal() bool {
	switch s {
	case RunSucceeded, RunPartial, RunFailed, RunMergeFailed:
		return true
	default:
		return false
	}
}

// Run is the persistent record of one execution attempt.
type Run struct {
	RunID     string     `json:"run_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Status    RunStatus  `json:"status"`

	Params core.Params        `json:"params"`
	Output string             `json:"output"`
	Policy core.FailurePolicy `json:"policy"`

	// TempDir holds the run's worker outputs.
	TempDir  string `json:"temp_dir"`
	KeepTemp bool   `json:"keep_temp"`

	Intervals []IntervalRecord `json:"intervals"`

	// Retained lists the temporary files left on disk when the run ended.
	Retained []string `json:"retained"`

	// MergeAttempts counts merges retried from the ledger after the run.
	MergeAttempts int `json:"merge_attempts"`

	JournalHash string `json:"journal_hash,omitempty"`
}

// IntervalRecord is the final state of one interval.
type IntervalRecord struct {
	Number   int           `json:"number"`
	Interval core.Interval `json:"interval"`
	State    string        `json:"state"`
	Artifact string        `json:"artifact,omitempty"`
}

// CompletedArtifacts returns the outputs of the completed intervals in
// interval order.
func (r Run) CompletedArtifacts() []string {
	var out []string
	for _, iv := range r.Intervals {
		if iv.State == "COMPLETED" && iv.Artifact != "" {
			out = append(out, iv.Artifact)
		}
	}
	return out
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Status {
	case RunRunning, RunSucceeded, RunPartial, RunFailed, RunMergeFailed:
		// ok
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.Status.IsFinal() && r.EndTime == nil {
		errs = append(errs, errors.New("end_time is required once the run has ended"))
	}
	if strings.TrimSpace(r.Output) == "" {
		errs = append(errs, errors.New("output is required"))
	}
	switch r.Policy {
	case core.PolicyFail, core.PolicyPartial:
		// ok
	default:
		errs = append(errs, fmt.Errorf("invalid policy %q", r.Policy))
	}
	for i, iv := range r.Intervals {
		if iv.Number != i+1 {
			errs = append(errs, fmt.Errorf("intervals[%d].number must be %d", i, i+1))
		}
		if iv.State == "" {
			errs = append(errs, fmt.Errorf("intervals[%d].state is required", i))
		}
	}
	if r.MergeAttempts < 0 {
		errs = append(errs, errors.New("merge_attempts must be >= 0"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

type FailureClass string

const (
	// FailureClassInput covers unreadable metadata and impossible partitions.
	FailureClassInput  FailureClass = "input"
	FailureClassWorker FailureClass = "worker"
	FailureClassMerge  FailureClass = "merge"
	FailureClassSystem FailureClass = "system"
)

// Failure is a recorded run termination reason.
type Failure struct {
	FailureClass FailureClass     `json:"failure_class"`
	Stage        core.Stage       `json:"stage,omitempty"`
	Intervals    []FailedInterval `json:"intervals,omitempty"`
	ErrorMessage string           `json:"error_message"`

	// Retained lists the temporary files left on disk for inspection.
	Retained []string `json:"retained"`

	// Mergeable is set when `diffrsp merge` can retry from Retained.
	Mergeable bool `json:"mergeable"`
}

// FailedInterval describes one failed worker.
type FailedInterval struct {
	Number   int           `json:"number"`
	Interval core.Interval `json:"interval"`
	Stage    core.Stage    `json:"stage"`
	ExitCode int           `json:"exit_code"`
	Signal   string        `json:"signal,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassInput, FailureClassWorker, FailureClassMerge, FailureClassSystem:
		// ok
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if f.FailureClass == FailureClassWorker && len(f.Intervals) == 0 {
		errs = append(errs, errors.New("worker failures must name at least one interval"))
	}
	for i, iv := range f.Intervals {
		if iv.Number < 1 {
			errs = append(errs, fmt.Errorf("intervals[%d].number must be >= 1", i))
		}
		if iv.Stage == "" {
			errs = append(errs, fmt.Errorf("intervals[%d].stage is required", i))
		}
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
