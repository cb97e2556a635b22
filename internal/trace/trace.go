// Package trace records what happened to each interval of a run.
//
// The journal is observational only: recording never affects execution, and
// the canonical form is independent of worker timing.
package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"diffrsp/internal/core"
)

// Journal is the canonical record of one run.
type Journal struct {
	RunID  string  `json:"runId"`
	Events []Event `json:"events"`
}

// EventKind discriminates journal events. The string values are stored in
// run ledgers; do not rename.
type EventKind string

const (
	EventIntervalStarted   EventKind = "IntervalStarted"
	EventIntervalSelected  EventKind = "IntervalSelected"
	EventIntervalCompleted EventKind = "IntervalCompleted"
	EventIntervalFailed    EventKind = "IntervalFailed"
	EventIntervalMerged    EventKind = "IntervalMerged"
	EventArtifactReleased  EventKind = "ArtifactReleased"
	EventArtifactRetained  EventKind = "ArtifactRetained"
)

// Event is a single lifecycle step.
//
// No timestamps and no error strings: two runs over the same inputs with the
// same outcome produce the same journal apart from artifact names.
type Event struct {
	Kind EventKind `json:"kind"`

	// Interval is one-based. Zero marks a run-level event (a stray artifact,
	// for instance).
	Interval int `json:"interval,omitempty"`

	// Stage is set on IntervalFailed.
	Stage core.Stage `json:"stage,omitempty"`

	Artifact string `json:"artifact,omitempty"`
}

// Validate checks basic invariants.
func (j *Journal) Validate() error {
	if j == nil {
		return errors.New("journal is nil")
	}
	if j.RunID == "" {
		return errors.New("runId is required")
	}
	for i, e := range j.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Interval < 0 {
			return fmt.Errorf("events[%d].interval must be >= 0", i)
		}
		if isIntervalEvent(e.Kind) && e.Interval == 0 {
			return fmt.Errorf("events[%d].interval is required for kind %q", i, e.Kind)
		}
		if e.Kind == EventIntervalFailed && e.Stage == "" {
			return fmt.Errorf("events[%d].stage is required for kind %q", i, e.Kind)
		}
	}
	return nil
}

func isIntervalEvent(kind EventKind) bool {
	switch kind {
	case EventIntervalStarted, EventIntervalSelected, EventIntervalCompleted, EventIntervalFailed, EventIntervalMerged:
		return true
	default:
		return false
	}
}

// Canonicalize sorts events by (interval, kind order, stage, artifact).
func (j *Journal) Canonicalize() {
	if j == nil {
		return
	}
	sort.SliceStable(j.Events, func(a, b int) bool {
		x, y := j.Events[a], j.Events[b]
		if x.Interval != y.Interval {
			return x.Interval < y.Interval
		}
		if kindOrder(x.Kind) != kindOrder(y.Kind) {
			return kindOrder(x.Kind) < kindOrder(y.Kind)
		}
		if x.Stage != y.Stage {
			return x.Stage < y.Stage
		}
		return x.Artifact < y.Artifact
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventIntervalStarted:
		return 10
	case EventIntervalSelected:
		return 20
	case EventIntervalCompleted:
		return 30
	case EventIntervalFailed:
		return 40
	case EventIntervalMerged:
		return 50
	case EventArtifactReleased:
		return 60
	case EventArtifactRetained:
		return 70
	default:
		return 1000
	}
}

// CanonicalJSON returns the canonical encoding without mutating j.
func (j Journal) CanonicalJSON() ([]byte, error) {
	cp := Journal{RunID: j.RunID, Events: make([]Event, len(j.Events))}
	copy(cp.Events, j.Events)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(cp)
}

// Hash returns the sha256 hex digest of the canonical encoding.
func (j Journal) Hash() (string, error) {
	b, err := j.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeHash(b), nil
}

// Count returns how many events of kind k concern interval n. n == 0 counts
// across all intervals.
func (j Journal) Count(k EventKind, n int) int {
	c := 0
	for _, e := range j.Events {
		if e.Kind == k && (n == 0 || e.Interval == n) {
			c++
		}
	}
	return c
}
