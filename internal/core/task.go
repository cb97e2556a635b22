package core

import "fmt"

// Params are the invocation inputs shared by every work item of a run.
type Params struct {
	// EventFile is the dataset every worker selects from.
	EventFile string `json:"event_file"`

	// SpacecraftFile is the pointing history passed to the response stage.
	SpacecraftFile string `json:"spacecraft_file"`

	// SourceModel is the XML source model passed to the response stage.
	SourceModel string `json:"source_model"`

	// ResponseID names the instrument response functions (e.g. P8R3_SOURCE_V3).
	ResponseID string `json:"response_id"`

	// Region is the selection region read from the dataset header.
	Region Region `json:"region"`
}

// WorkItem is the self-contained description of one worker's job.
// It is built once per interval and never modified.
type WorkItem struct {
	// Index is the zero-based interval position. Workers and logs report it
	// one-based via Number.
	Index    int
	Interval Interval
	Params
}

// Number returns the one-based interval number used in messages.
func (w WorkItem) Number() int { return w.Index + 1 }

func (w WorkItem) String() string {
	return fmt.Sprintf("interval %d %s", w.Number(), w.Interval)
}

// BuildWorkItem combines one interval with the shared parameters.
func BuildWorkItem(index int, iv Interval, p Params) WorkItem {
	return WorkItem{Index: index, Interval: iv, Params: p}
}

// BuildWorkItems builds one WorkItem per interval, preserving order.
func BuildWorkItems(intervals []Interval, p Params) []WorkItem {
	items := make([]WorkItem, len(intervals))
	for i, iv := range intervals {
		items[i] = BuildWorkItem(i, iv, p)
	}
	return items
}
