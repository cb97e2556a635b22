package pipeline

import (
	"go.uber.org/zap"

	"diffrsp/internal/core"
	"diffrsp/internal/pool"
	"diffrsp/internal/recovery/state"
)

// runLedger writes the run record when a recorder is configured. Ledger
// write failures are logged; they never fail the run.
type runLedger struct {
	recorder *state.FailureRecorder
	logger   *zap.Logger
	run      state.Run
	started  bool
}

func (l *runLedger) start(items []core.WorkItem) {
	l.run.Intervals = make([]state.IntervalRecord, len(items))
	for i, it := range items {
		l.run.Intervals[i] = state.IntervalRecord{
			Number:   it.Number(),
			Interval: it.Interval,
			State:    string(pool.StatePending),
		}
	}
	if l.recorder == nil {
		return
	}
	if err := l.recorder.StartRun(l.run); err != nil {
		l.logger.Warn("could not write run ledger", zap.Error(err))
		return
	}
	l.started = true
}

func (l *runLedger) finish(out *Outcome, runErr error) {
	for _, it := range out.Items {
		i := it.Item.Index
		if i < 0 || i >= len(l.run.Intervals) {
			continue
		}
		l.run.Intervals[i].State = string(it.State)
		l.run.Intervals[i].Artifact = it.Artifact
	}
	l.run.Retained = append([]string{}, out.Artifacts.Retained...)
	if hash, err := out.Journal.Hash(); err == nil {
		l.run.JournalHash = hash
	}

	if l.recorder == nil {
		return
	}
	if !l.started {
		// Failed before the workers: the ledger still gets a record.
		if err := l.recorder.StartRun(l.run); err != nil {
			l.logger.Warn("could not write run ledger", zap.Error(err))
			return
		}
	}
	if err := l.recorder.FinishRun(l.run, out.Status); err != nil {
		l.logger.Warn("could not write run ledger", zap.Error(err))
	}
	if err := l.recorder.Store.SaveJournal(out.Journal); err != nil {
		l.logger.Warn("could not write run journal", zap.Error(err))
	}
	if runErr != nil {
		if err := l.recorder.RecordFailure(l.run.RunID, runErr, out.Artifacts.Retained); err != nil {
			l.logger.Warn("could not write failure record", zap.Error(err))
		}
	}
}
