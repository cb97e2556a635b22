package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"diffrsp/internal/artifact"
	"diffrsp/internal/merge"
	"diffrsp/internal/pool"
	"diffrsp/internal/recovery/state"
)

// MergeRequest retries the merge of a finished run from its ledger.
type MergeRequest struct {
	RunID string

	// Partial allows merging a run whose workers partly failed.
	Partial bool

	// Output overrides the output recorded in the ledger.
	Output string
}

// MergeRun merges the worker outputs a failed run left on disk.
//
// On success the merged outputs are deleted unless the run kept its temp
// files, and the ledger's failure record is cleared.
func (p *Pipeline) MergeRun(ctx context.Context, req MergeRequest) (*Outcome, error) {
	started := time.Now()
	if p.Ledger == nil || p.Ledger.Store == nil {
		return nil, errors.New("merge retry needs a run ledger")
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("run_id", req.RunID))

	run, inputs, err := (&state.MergeEligibility{Store: p.Ledger.Store}).Check(req.RunID, req.Partial)
	if err != nil {
		return nil, err
	}
	output := run.Output
	if req.Output != "" {
		output = req.Output
	}

	out := &Outcome{RunID: run.RunID, Status: run.Status}
	var numbers []int
	for _, iv := range run.Intervals {
		if iv.State == string(pool.StateCompleted) {
			numbers = append(numbers, iv.Number)
		}
		out.Intervals = append(out.Intervals, iv.Interval)
	}

	mgr, err := artifact.NewManager(run.TempDir, run.RunID, logger)
	if err != nil {
		return nil, err
	}
	m := &merge.Merger{
		Runner:    p.Runner,
		Suite:     p.Suite,
		Regions:   p.Reader,
		Artifacts: mgr,
		Logger:    logger,
	}
	run.MergeAttempts++
	logger.Info("retrying merge", zap.Int("attempt", run.MergeAttempts), zap.Ints("intervals", numbers))

	failed := len(run.Intervals) - len(numbers)
	if mergeErr := m.Merge(ctx, inputs, output); mergeErr != nil {
		out.Artifacts = mgr.Finish(true)
		out.Duration = time.Since(started)
		p.writeMetrics(logger, out, len(numbers), failed)
		if err := p.Ledger.FinishRun(run, run.Status); err != nil {
			logger.Warn("could not write run ledger", zap.Error(err))
		}
		if err := p.Ledger.RecordFailure(run.RunID, mergeErr, run.Retained); err != nil {
			logger.Warn("could not write failure record", zap.Error(err))
		}
		return out, mergeErr
	}

	for _, in := range inputs {
		mgr.Adopt(in, artifact.KindWorker)
	}
	out.Artifacts = mgr.Finish(run.KeepTemp)
	out.Output = output
	out.Merged = numbers
	out.Duration = time.Since(started)
	out.Status = state.RunSucceeded
	if len(numbers) < len(run.Intervals) {
		out.Status = state.RunPartial
	}

	deleted := map[string]bool{}
	for _, d := range out.Artifacts.Deleted {
		deleted[d] = true
	}
	var retained []string
	for _, r := range run.Retained {
		if !deleted[r] {
			retained = append(retained, r)
		}
	}
	run.Retained = retained
	run.Output = output

	if err := p.Ledger.FinishRun(run, out.Status); err != nil {
		logger.Warn("could not write run ledger", zap.Error(err))
	}
	if err := p.Ledger.Store.ClearFailure(run.RunID); err != nil {
		logger.Warn("could not clear failure record", zap.Error(err))
	}
	p.writeMetrics(logger, out, len(numbers), failed)
	return out, nil
}
