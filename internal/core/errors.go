package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMetadata         = errors.New("metadata error")
	ErrInvalidPartition = errors.New("invalid partition")
	ErrWorker           = errors.New("worker error")
	ErrMerge            = errors.New("merge error")
	ErrTempArtifact     = errors.New("temp artifact error")

	// ErrAmbiguousRegion is the cause of a MetadataError when more than one
	// header field could describe the selection region.
	ErrAmbiguousRegion = errors.New("ambiguous region descriptor")
)

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageMetadata  Stage = "metadata"
	StagePartition Stage = "partition"
	StageSelect    Stage = "select"
	StageResponse  Stage = "response"
	StageMerge     Stage = "merge"
	StageCleanup   Stage = "cleanup"
)

// MetadataError reports an unreadable or unparseable dataset header.
type MetadataError struct {
	Path  string
	Msg   string
	Cause error
}

func (e *MetadataError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(ErrMetadata.Error())
	if e.Path != "" {
		b.WriteString(": " + e.Path)
	}
	if e.Msg != "" {
		b.WriteString(": " + e.Msg)
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *MetadataError) Is(target error) bool { return target == ErrMetadata }
func (e *MetadataError) Unwrap() error        { return e.Cause }

// InvalidPartitionError reports a partition count or time range that cannot
// be split.
type InvalidPartitionError struct {
	Start float64
	Stop  float64
	N     int
	Msg   string
}

func (e *InvalidPartitionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s (start=%s stop=%s n=%d)",
		ErrInvalidPartition, e.Msg, FormatFloat(e.Start), FormatFloat(e.Stop), e.N)
}

func (e *InvalidPartitionError) Is(target error) bool { return target == ErrInvalidPartition }

// WorkerError reports a failed external invocation for one interval.
//
// ExitCode is -1 when the tool could not be started at all. A tool killed by
// a signal has Signal set and ExitCode 128 plus the signal number. Stderr
// holds the tail of the tool's error output.
type WorkerError struct {
	Index    int
	Interval Interval
	Stage    Stage
	ExitCode int
	Signal   string
	Stderr   string
	Cause    error
}

func (e *WorkerError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: interval %d %s: %s stage", ErrWorker, e.Index+1, e.Interval, e.Stage)
	switch {
	case e.Cause != nil:
		msg += ": " + e.Cause.Error()
	case e.Signal != "":
		msg += ": killed by " + e.Signal
	case e.ExitCode != 0:
		msg += fmt.Sprintf(": exited with status %d", e.ExitCode)
	}
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *WorkerError) Is(target error) bool { return target == ErrWorker }
func (e *WorkerError) Unwrap() error        { return e.Cause }

// MergeError reports a failed copy or concatenation of worker outputs.
type MergeError struct {
	Output string
	Inputs []string
	Cause  error
}

func (e *MergeError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %d input(s) -> %s", ErrMerge, len(e.Inputs), e.Output)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *MergeError) Is(target error) bool { return target == ErrMerge }
func (e *MergeError) Unwrap() error        { return e.Cause }

// TempArtifactError reports a tracked temporary path that could not be
// removed. It never overturns a successful merge.
type TempArtifactError struct {
	Path  string
	Cause error
}

func (e *TempArtifactError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", ErrTempArtifact, e.Path)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TempArtifactError) Is(target error) bool { return target == ErrTempArtifact }
func (e *TempArtifactError) Unwrap() error        { return e.Cause }

// StageOf returns the stage an error belongs to, or "" when it is not one of
// the pipeline error types.
func StageOf(err error) Stage {
	var we *WorkerError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &we):
		return we.Stage
	case errors.Is(err, ErrMetadata):
		return StageMetadata
	case errors.Is(err, ErrInvalidPartition):
		return StagePartition
	case errors.Is(err, ErrMerge):
		return StageMerge
	case errors.Is(err, ErrTempArtifact):
		return StageCleanup
	default:
		return ""
	}
}

// FailurePolicy decides what happens to a run when some intervals fail.
type FailurePolicy string

const (
	// PolicyFail skips the merge when any interval failed.
	PolicyFail FailurePolicy = "fail"
	// PolicyPartial merges the intervals that succeeded and reports the rest.
	PolicyPartial FailurePolicy = "partial"
)

// ParseFailurePolicy accepts "fail", "partial" or "" (fail).
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyFail:
		return PolicyFail, nil
	case PolicyPartial:
		return PolicyPartial, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want %s or %s)", s, PolicyFail, PolicyPartial)
	}
}

// WorkerErrors returns every *WorkerError in err's tree, in the order
// errors.Join received them.
func WorkerErrors(err error) []*WorkerError {
	var out []*WorkerError
	var walk func(error)
	walk = func(e error) {
		switch x := e.(type) {
		case nil:
		case *WorkerError:
			out = append(out, x)
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap())
		}
	}
	walk(err)
	return out
}
