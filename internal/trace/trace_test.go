package trace

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diffrsp/internal/core"
)

func TestCanonicalJSON_IndependentOfArrivalOrder(t *testing.T) {
	a := Journal{RunID: "r1", Events: []Event{
		{Kind: EventIntervalCompleted, Interval: 2},
		{Kind: EventIntervalStarted, Interval: 1},
		{Kind: EventIntervalFailed, Interval: 1, Stage: core.StageSelect},
		{Kind: EventIntervalStarted, Interval: 2},
	}}
	b := Journal{RunID: "r1", Events: []Event{
		{Kind: EventIntervalStarted, Interval: 2},
		{Kind: EventIntervalFailed, Interval: 1, Stage: core.StageSelect},
		{Kind: EventIntervalStarted, Interval: 1},
		{Kind: EventIntervalCompleted, Interval: 2},
	}}

	ja, err := a.CanonicalJSON()
	require.NoError(t, err)
	jb, err := b.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)
}

func TestCanonicalJSON_Encoding(t *testing.T) {
	j := Journal{RunID: "r1", Events: []Event{
		{Kind: EventArtifactRetained, Interval: 1, Artifact: "/tmp/x"},
		{Kind: EventIntervalStarted, Interval: 1},
	}}
	b, err := j.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t,
		`{"runId":"r1","events":[{"kind":"IntervalStarted","interval":1},{"kind":"ArtifactRetained","interval":1,"artifact":"/tmp/x"}]}`,
		string(b))

	// CanonicalJSON sorts a copy.
	assert.Equal(t, EventArtifactRetained, j.Events[0].Kind)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		j    Journal
	}{
		{"missing run id", Journal{}},
		{"missing kind", Journal{RunID: "r", Events: []Event{{Interval: 1}}}},
		{"interval event without interval", Journal{RunID: "r", Events: []Event{{Kind: EventIntervalStarted}}}},
		{"failure without stage", Journal{RunID: "r", Events: []Event{{Kind: EventIntervalFailed, Interval: 2}}}},
		{"negative interval", Journal{RunID: "r", Events: []Event{{Kind: EventArtifactReleased, Interval: -1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.j.Validate())
			_, err := tc.j.CanonicalJSON()
			assert.Error(t, err)
		})
	}

	ok := Journal{RunID: "r", Events: []Event{{Kind: EventArtifactReleased, Artifact: "/tmp/stray"}}}
	assert.NoError(t, ok.Validate())
}

func TestRecorder_ConcurrentRecordAndCount(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			SafeRecord(r, Event{Kind: EventIntervalStarted, Interval: n})
			SafeRecord(r, Event{Kind: EventIntervalCompleted, Interval: n})
		}(i)
	}
	wg.Wait()

	j := r.Journal("r1")
	require.Len(t, j.Events, 16)
	assert.Equal(t, 8, j.Count(EventIntervalCompleted, 0))
	assert.Equal(t, 1, j.Count(EventIntervalStarted, 3))
	assert.Equal(t, Event{Kind: EventIntervalStarted, Interval: 1}, j.Events[0])
	assert.Equal(t, Event{Kind: EventIntervalCompleted, Interval: 8}, j.Events[15])
}

type panicSink struct{}

func (panicSink) Record(Event) { panic("boom") }

func TestSafeRecord_SwallowsPanicsAndNil(t *testing.T) {
	assert.NotPanics(t, func() {
		SafeRecord(panicSink{}, Event{Kind: EventIntervalStarted, Interval: 1})
		SafeRecord(nil, Event{Kind: EventIntervalStarted, Interval: 1})
		SafeRecord(NopSink{}, Event{Kind: EventIntervalStarted, Interval: 1})
	})
	var r *Recorder
	assert.Nil(t, r.Snapshot())
}
