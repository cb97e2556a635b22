// Package pool runs one worker per interval with bounded parallelism.
//
// A worker selects its interval out of the event file into a fresh temporary
// artifact and runs the response tool on it. Workers never cancel each other:
// the pool always joins every worker, then reports every failure together.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"diffrsp/internal/artifact"
	"diffrsp/internal/core"
	"diffrsp/internal/tool"
	"diffrsp/internal/trace"
)

// stderrTail is how many lines of tool error output a WorkerError keeps.
const stderrTail = 8

// Artifacts hands out and takes back temporary files.
// *artifact.Manager implements it.
type Artifacts interface {
	Allocate(kind artifact.Kind, label, ext string) (string, error)
	Release(paths ...string) error
}

// Pool executes work items.
type Pool struct {
	Runner    tool.Runner
	Suite     tool.Suite
	Artifacts Artifacts

	// Parallelism bounds concurrent workers. Zero means one worker per item.
	Parallelism int

	Logger *zap.Logger
	Sink   trace.Sink
}

// ItemResult is the slot one worker owns.
type ItemResult struct {
	Item  core.WorkItem
	State State

	// Artifact is the worker output, set when State is COMPLETED.
	Artifact string

	// Err is a *core.WorkerError, set when State is FAILED.
	Err error

	Duration time.Duration
}

// Result holds every slot, in work item order.
type Result struct {
	Items []ItemResult
}

// Artifacts returns the outputs of the completed items in interval order.
func (r *Result) Artifacts() []string {
	var out []string
	for _, it := range r.Items {
		if it.State == StateCompleted {
			out = append(out, it.Artifact)
		}
	}
	return out
}

// Failures returns the worker errors in interval order.
func (r *Result) Failures() []*core.WorkerError {
	var out []*core.WorkerError
	for _, it := range r.Items {
		var we *core.WorkerError
		if it.State == StateFailed && errors.As(it.Err, &we) {
			out = append(out, we)
		}
	}
	return out
}

// States returns the final state of each item.
func (r *Result) States() States {
	out := make(States, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.State
	}
	return out
}

// Err joins the errors of all failed items, or returns nil.
func (r *Result) Err() error {
	var errs []error
	for _, it := range r.Items {
		if it.Err != nil {
			errs = append(errs, it.Err)
		}
	}
	return errors.Join(errs...)
}

// Run executes items and waits for all of them.
//
// The returned Result is always complete. The error is nil only if every
// worker succeeded; otherwise it joins one *core.WorkerError per failed
// interval.
func (p *Pool) Run(ctx context.Context, items []core.WorkItem) (*Result, error) {
	if p.Runner == nil {
		return nil, errors.New("pool: nil runner")
	}
	if p.Artifacts == nil {
		return nil, errors.New("pool: nil artifact manager")
	}
	if p.Parallelism < 0 {
		return nil, fmt.Errorf("pool: parallelism must be >= 0, got %d", p.Parallelism)
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := p.Parallelism
	if limit == 0 || limit > len(items) {
		limit = len(items)
	}

	res := &Result{Items: make([]ItemResult, len(items))}
	states := NewStates(len(items))
	var mu sync.Mutex
	transition := func(i int, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		if err := Transition(states, i, from, to); err != nil {
			// Each slot is driven by exactly one goroutine.
			panic(err)
		}
	}
	done := 0

	logger.Info("starting workers", zap.Int("intervals", len(items)), zap.Int("parallelism", limit))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		res.Items[i] = ItemResult{Item: item, State: StatePending}
		g.Go(func() error {
			transition(i, StatePending, StateRunning)
			slot := p.work(ctx, logger, item)
			if slot.Err != nil {
				transition(i, StateRunning, StateFailed)
				slot.State = StateFailed
			} else {
				transition(i, StateRunning, StateCompleted)
				slot.State = StateCompleted
			}
			res.Items[i] = slot

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			logger.Info("interval finished",
				zap.Int("interval", item.Number()),
				zap.String("state", string(slot.State)),
				zap.Duration("duration", slot.Duration),
				zap.Int("done", n),
				zap.Int("total", len(items)),
			)
			return nil
		})
	}
	_ = g.Wait()

	if err := res.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Pool) work(ctx context.Context, logger *zap.Logger, item core.WorkItem) ItemResult {
	started := time.Now()
	slot := ItemResult{Item: item}
	log := logger.With(zap.Int("interval", item.Number()))

	fail := func(err *core.WorkerError) ItemResult {
		slot.Err = err
		slot.Duration = time.Since(started)
		trace.SafeRecord(p.Sink, trace.Event{Kind: trace.EventIntervalFailed, Interval: item.Number(), Stage: err.Stage})
		log.Error("interval failed", zap.String("stage", string(err.Stage)), zap.Error(err))
		return slot
	}

	trace.SafeRecord(p.Sink, trace.Event{Kind: trace.EventIntervalStarted, Interval: item.Number()})
	log.Info("interval started",
		zap.Float64("tmin", item.Interval.Start),
		zap.Float64("tmax", item.Interval.Stop),
	)

	if err := ctx.Err(); err != nil {
		return fail(p.workerError(item, core.StageSelect, -1, "", err))
	}

	out, err := p.Artifacts.Allocate(artifact.KindWorker, fmt.Sprintf("i%03d", item.Number()), ".fits")
	if err != nil {
		return fail(p.workerError(item, core.StageSelect, -1, "", err))
	}
	// A failed worker's output is never handed on.
	release := func() {
		if err := p.Artifacts.Release(out); err != nil {
			log.Warn("could not remove output of failed interval", zap.String("path", out), zap.Error(err))
		}
	}

	bounds := item.Interval
	sel := p.Suite.Select(tool.Selection{
		InFile:  item.EventFile,
		OutFile: out,
		Region:  item.Region,
		Bounds:  &bounds,
		Chatter: p.Suite.Chatter,
	})
	if werr := p.invoke(ctx, item, core.StageSelect, sel); werr != nil {
		release()
		return fail(werr)
	}
	trace.SafeRecord(p.Sink, trace.Event{Kind: trace.EventIntervalSelected, Interval: item.Number(), Artifact: out})

	if werr := p.invoke(ctx, item, core.StageResponse, p.Suite.Response(out, item.Params)); werr != nil {
		release()
		return fail(werr)
	}
	trace.SafeRecord(p.Sink, trace.Event{Kind: trace.EventIntervalCompleted, Interval: item.Number(), Artifact: out})

	slot.Artifact = out
	slot.Duration = time.Since(started)
	return slot
}

func (p *Pool) invoke(ctx context.Context, item core.WorkItem, stage core.Stage, inv tool.Invocation) *core.WorkerError {
	res, err := p.Runner.Execute(ctx, inv)
	if err != nil {
		return p.workerError(item, stage, -1, "", err)
	}
	if res.ExitCode != 0 {
		werr := p.workerError(item, stage, res.ExitCode, tool.Tail(res.Stderr, stderrTail), nil)
		werr.Signal = res.Signal
		return werr
	}
	return nil
}

func (p *Pool) workerError(item core.WorkItem, stage core.Stage, exitCode int, stderr string, cause error) *core.WorkerError {
	return &core.WorkerError{
		Index:    item.Index,
		Interval: item.Interval,
		Stage:    stage,
		ExitCode: exitCode,
		Stderr:   stderr,
		Cause:    cause,
	}
}
