package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerError_NamesIntervalAndStage(t *testing.T) {
	err := &WorkerError{
		Index:    2,
		Interval: Interval{Start: 50, Stop: 75},
		Stage:    StageSelect,
		ExitCode: 1,
		Stderr:   "gtselect: cannot open file\n",
	}
	assert.Equal(t, "worker error: interval 3 [50, 75): select stage: exited with status 1: gtselect: cannot open file", err.Error())

	wrapped := fmt.Errorf("run: %w", err)
	assert.True(t, errors.Is(wrapped, ErrWorker))
	assert.Equal(t, StageSelect, StageOf(wrapped))
}

func TestWorkerError_NamesTheKillingSignal(t *testing.T) {
	err := &WorkerError{
		Index:    0,
		Interval: Interval{Start: 0, Stop: 25},
		Stage:    StageResponse,
		ExitCode: 137,
		Signal:   "SIGKILL",
	}
	assert.Equal(t, "worker error: interval 1 [0, 25): response stage: killed by SIGKILL", err.Error())
}

func TestMetadataError_WrapsCause(t *testing.T) {
	err := &MetadataError{Path: "ft1.fits", Cause: ErrAmbiguousRegion}
	assert.True(t, errors.Is(err, ErrMetadata))
	assert.True(t, errors.Is(err, ErrAmbiguousRegion))
	assert.Equal(t, "metadata error: ft1.fits: ambiguous region descriptor", err.Error())
	assert.Equal(t, StageMetadata, StageOf(err))
}

func TestStageOf_Joined(t *testing.T) {
	joined := errors.Join(
		&WorkerError{Index: 0, Stage: StageResponse, ExitCode: 2},
		&WorkerError{Index: 3, Stage: StageSelect, ExitCode: 1},
	)
	assert.Equal(t, StageResponse, StageOf(joined))
	assert.Equal(t, StageMerge, StageOf(&MergeError{Output: "out.fits"}))
	assert.Equal(t, StageCleanup, StageOf(&TempArtifactError{Path: "/tmp/x"}))
	assert.Equal(t, Stage(""), StageOf(errors.New("other")))
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("")
	assert.NoError(t, err)
	assert.Equal(t, PolicyFail, p)

	p, err = ParseFailurePolicy(" Partial ")
	assert.NoError(t, err)
	assert.Equal(t, PolicyPartial, p)

	_, err = ParseFailurePolicy("retry")
	assert.Error(t, err)
}

func TestWorkerErrors_WalksJoinedAndWrapped(t *testing.T) {
	a := &WorkerError{Index: 0, Stage: StageSelect}
	b := &WorkerError{Index: 2, Stage: StageResponse}
	err := fmt.Errorf("run: %w", errors.Join(a, errors.New("other"), b))

	got := WorkerErrors(err)
	assert.Equal(t, []*WorkerError{a, b}, got)
	assert.Empty(t, WorkerErrors(nil))
	assert.Empty(t, WorkerErrors(&MergeError{}))
}
