package state

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotMergeable is returned when a run's ledger does not allow a merge
// retry.
var ErrNotMergeable = errors.New("run is not mergeable")

// MergeEligibility decides whether a finished run may be merged again from
// the worker outputs it left on disk.
//
// Rules:
//   - the run ended in merge_failed, or in failed when partial is set
//   - at least one interval completed
//   - every completed interval's output still exists
//
// A run that failed only because some workers failed is merged again only
// with partial set, and then only from the intervals that completed.
type MergeEligibility struct {
	Store *Store
}

// Check returns the run and the outputs to merge, in interval order.
func (c *MergeEligibility) Check(runID string, partial bool) (Run, []string, error) {
	if c == nil || c.Store == nil {
		return Run{}, nil, errors.New("Store is required")
	}
	run, err := c.Store.LoadRun(runID)
	if err != nil {
		return Run{}, nil, fmt.Errorf("%w: load run %s: %w", ErrNotMergeable, runID, err)
	}

	switch run.Status {
	case RunMergeFailed:
		// ok
	case RunFailed:
		if !partial {
			return run, nil, fmt.Errorf("%w: run %s has failed intervals (retry with partial to merge the rest)", ErrNotMergeable, runID)
		}
	default:
		return run, nil, fmt.Errorf("%w: run %s has status %s", ErrNotMergeable, runID, run.Status)
	}

	inputs := run.CompletedArtifacts()
	if len(inputs) == 0 {
		return run, nil, fmt.Errorf("%w: run %s has no completed intervals", ErrNotMergeable, runID)
	}
	var missing []string
	for _, p := range inputs {
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return run, nil, fmt.Errorf("%w: worker outputs missing: %s", ErrNotMergeable, strings.Join(missing, ", "))
	}
	return run, inputs, nil
}
