// Package pipeline runs one partition–compute–merge pass over an event file
// and applies the run's cleanup policy to whatever it leaves behind.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"diffrsp/internal/artifact"
	"diffrsp/internal/core"
	"diffrsp/internal/merge"
	"diffrsp/internal/metrics"
	"diffrsp/internal/pool"
	"diffrsp/internal/recovery/state"
	"diffrsp/internal/tool"
	"diffrsp/internal/trace"
)

// DatasetReader reads partitioning metadata. *metadata.Reader implements it.
type DatasetReader interface {
	Read(path string) (core.Dataset, error)
	ReadRegion(path string) (core.Region, error)
}

// Request is one run's inputs.
type Request struct {
	// RunID names the run and prefixes its temp files. Empty means a fresh id.
	RunID string

	Partitions     int
	EventFile      string
	SpacecraftFile string
	SourceModel    string
	ResponseID     string
	Output         string

	// Parallelism bounds concurrent workers. Zero means one per partition.
	Parallelism int

	// TempDir receives worker outputs. Empty means the system temp dir.
	TempDir string

	// KeepTemp retains every worker output, whatever the outcome.
	KeepTemp bool

	Policy core.FailurePolicy

	// CleanupOnFailure deletes successful worker outputs when the run fails
	// instead of retaining them for inspection. KeepTemp wins over it.
	CleanupOnFailure bool
}

// Pipeline wires the stages together.
type Pipeline struct {
	Reader DatasetReader
	Runner tool.Runner
	Suite  tool.Suite

	// Ledger, if set, records the run under its state dir.
	Ledger *state.FailureRecorder

	// MetricsFile, if set, receives a Prometheus text exposition of the run.
	MetricsFile string

	Logger *zap.Logger
}

// Outcome describes a finished run, successful or not.
type Outcome struct {
	RunID     string
	Status    state.RunStatus
	Dataset   core.Dataset
	Intervals []core.Interval

	// Items holds every worker slot, empty if the run failed before the
	// workers started.
	Items []pool.ItemResult

	// Merged lists the one-based interval numbers in the output.
	Merged []int

	// Output is the written file, empty if none was written.
	Output string

	// Artifacts is the fate of every temporary file of the run.
	Artifacts artifact.Report

	Journal  trace.Journal
	Duration time.Duration
}

// Failures returns the failed intervals.
func (o *Outcome) Failures() []*core.WorkerError {
	return (&pool.Result{Items: o.Items}).Failures()
}

// Run executes req.
//
// The error is nil only for a fully merged run. With PolicyPartial a run that
// merged some intervals returns Status partial together with the worker
// errors. Cleanup failures are reported in Outcome.Artifacts.Err and never
// turn a successful merge into an error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	started := time.Now()
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if req.RunID == "" {
		req.RunID = state.NewRunID()
	}
	if req.Policy == "" {
		req.Policy = core.PolicyFail
	}
	logger = logger.With(zap.String("run_id", req.RunID))

	out := &Outcome{RunID: req.RunID, Status: state.RunRunning}
	rec := trace.NewRecorder()
	ledger := &runLedger{recorder: p.Ledger, logger: logger, run: state.Run{
		RunID:  req.RunID,
		Params: core.Params{
			EventFile:      req.EventFile,
			SpacecraftFile: req.SpacecraftFile,
			SourceModel:    req.SourceModel,
			ResponseID:     req.ResponseID,
		},
		StartTime: started.UTC(),
		Output:    req.Output,
		Policy:    req.Policy,
		TempDir:   req.TempDir,
		KeepTemp:  req.KeepTemp,
	}}

	finish := func(status state.RunStatus, err error) (*Outcome, error) {
		out.Status = status
		out.Journal = rec.Journal(req.RunID)
		out.Duration = time.Since(started)
		ledger.finish(out, err)
		failed := len(out.Failures())
		p.writeMetrics(logger, out, len(out.Items)-failed, failed)
		return out, err
	}

	if err := validate(req); err != nil {
		return finish(state.RunFailed, err)
	}

	// Metadata and partitioning fail before any worker starts.
	ds, err := p.Reader.Read(req.EventFile)
	if err != nil {
		return finish(state.RunFailed, err)
	}
	out.Dataset = ds
	logger.Info("read dataset metadata",
		zap.String("event_file", ds.Path),
		zap.Float64("tstart", ds.Start),
		zap.Float64("tstop", ds.Stop),
		zap.String("region", ds.Region.String()),
	)

	intervals, err := core.Partition(ds.Start, ds.Stop, req.Partitions)
	if err != nil {
		return finish(state.RunFailed, err)
	}
	out.Intervals = intervals
	params := ledger.run.Params
	params.Region = ds.Region
	ledger.run.Params = params
	items := core.BuildWorkItems(intervals, params)

	tempDir := req.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	mgr, err := artifact.NewManager(tempDir, req.RunID, logger)
	if err != nil {
		return finish(state.RunFailed, fmt.Errorf("temp dir: %w", err))
	}
	ledger.run.TempDir = mgr.Dir()
	ledger.start(items)

	stopWatch := watch(ctx, mgr, logger)
	defer stopWatch()

	wp := &pool.Pool{
		Runner:      p.Runner,
		Suite:       p.Suite,
		Artifacts:   mgr,
		Parallelism: req.Parallelism,
		Logger:      logger,
		Sink:        rec,
	}
	res, workerErr := wp.Run(ctx, items)
	if res != nil {
		out.Items = res.Items
	}
	if res == nil {
		stopWatch()
		out.Artifacts = mgr.Finish(req.KeepTemp)
		return finish(state.RunFailed, workerErr)
	}

	inputs, numbers := completed(res)
	status := state.RunSucceeded
	var runErr error

	switch {
	case workerErr == nil:
		// all intervals completed

	case req.Policy == core.PolicyPartial && len(inputs) > 0:
		status = state.RunPartial
		runErr = workerErr
		logger.Warn("merging completed intervals only",
			zap.Ints("merged", numbers),
			zap.Int("failed", len(res.Failures())),
		)

	default:
		if req.CleanupOnFailure && !req.KeepTemp {
			_ = mgr.Release(inputs...)
		} else {
			mgr.Retain("run failed before merge", inputs...)
		}
		stopWatch()
		out.Artifacts = mgr.Finish(req.KeepTemp)
		p.recordArtifacts(rec, res, out.Artifacts)
		return finish(state.RunFailed, workerErr)
	}

	m := &merge.Merger{
		Runner:    p.Runner,
		Suite:     p.Suite,
		Regions:   p.Reader,
		Artifacts: mgr,
		Logger:    logger,
	}
	if err := m.Merge(ctx, inputs, req.Output); err != nil {
		mgr.Retain("merge failed", inputs...)
		stopWatch()
		out.Artifacts = mgr.Finish(req.KeepTemp)
		p.recordArtifacts(rec, res, out.Artifacts)
		return finish(state.RunMergeFailed, errors.Join(err, runErr))
	}
	out.Output = req.Output
	out.Merged = numbers
	for _, n := range numbers {
		trace.SafeRecord(rec, trace.Event{Kind: trace.EventIntervalMerged, Interval: n})
	}

	stopWatch()
	out.Artifacts = mgr.Finish(req.KeepTemp)
	p.recordArtifacts(rec, res, out.Artifacts)
	if out.Artifacts.Err != nil {
		logger.Warn("some temp files could not be deleted", zap.Error(out.Artifacts.Err))
	}
	return finish(status, runErr)
}

func validate(req Request) error {
	var missing []string
	for _, f := range []struct{ name, v string }{
		{"event file", req.EventFile},
		{"spacecraft file", req.SpacecraftFile},
		{"source model", req.SourceModel},
		{"response function id", req.ResponseID},
		{"output file", req.Output},
	} {
		if strings.TrimSpace(f.v) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	if req.Parallelism < 0 {
		return fmt.Errorf("parallelism must be >= 0, got %d", req.Parallelism)
	}
	if _, err := core.ParseFailurePolicy(string(req.Policy)); err != nil {
		return err
	}
	if dir := filepath.Dir(req.Output); dir != "" {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			return fmt.Errorf("output directory %s does not exist", dir)
		}
	}
	return nil
}

// completed returns the outputs and one-based numbers of the completed
// intervals, in interval order.
func completed(res *pool.Result) ([]string, []int) {
	var paths []string
	var numbers []int
	for _, it := range res.Items {
		if it.State == pool.StateCompleted {
			paths = append(paths, it.Artifact)
			numbers = append(numbers, it.Item.Number())
		}
	}
	return paths, numbers
}

// watch adopts stray files under the run prefix until the returned func is
// called. The func may be called more than once.
func watch(ctx context.Context, mgr *artifact.Manager, logger *zap.Logger) func() {
	wctx, cancel := context.WithCancel(ctx)
	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := mgr.Watch(wctx, ready); err != nil {
			logger.Warn("temp dir watch unavailable", zap.Error(err))
		}
	}()
	<-ready
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (p *Pipeline) recordArtifacts(rec *trace.Recorder, res *pool.Result, report artifact.Report) {
	owner := map[string]int{}
	for _, it := range res.Items {
		if it.Artifact != "" {
			owner[it.Artifact] = it.Item.Number()
		}
	}
	for _, path := range report.Deleted {
		trace.SafeRecord(rec, trace.Event{Kind: trace.EventArtifactReleased, Interval: owner[path], Artifact: path})
	}
	for _, path := range report.Retained {
		trace.SafeRecord(rec, trace.Event{Kind: trace.EventArtifactRetained, Interval: owner[path], Artifact: path})
	}
}

// writeMetrics exports out together with its completed and failed interval
// counts.
func (p *Pipeline) writeMetrics(logger *zap.Logger, out *Outcome, completed, failed int) {
	if p.MetricsFile == "" {
		return
	}
	err := metrics.WriteFile(p.MetricsFile, metrics.Run{
		Outcome:   string(out.Status),
		Intervals: len(out.Intervals),
		Succeeded: completed,
		Failed:    failed,
		Retained:  len(out.Artifacts.Retained),
		Duration:  out.Duration,
		Finished:  time.Now(),
	})
	if err != nil {
		logger.Warn("could not write metrics file", zap.String("path", p.MetricsFile), zap.Error(err))
	}
}
