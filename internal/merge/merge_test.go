package merge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"diffrsp/internal/artifact"
	"diffrsp/internal/core"
	"diffrsp/internal/tool"
	"diffrsp/internal/tooltest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubRegions struct {
	region core.Region
	err    error
	paths  []string
}

func (s *stubRegions) ReadRegion(path string) (core.Region, error) {
	s.paths = append(s.paths, path)
	return s.region, s.err
}

type fixture struct {
	merger  *Merger
	regions *stubRegions
	manager *artifact.Manager
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tools := tooltest.Install(t)
	logger := zaptest.NewLogger(t)
	m, err := artifact.NewManager(t.TempDir(), "merge", logger)
	require.NoError(t, err)
	regions := &stubRegions{region: core.Region{RA: 1.5, Dec: -2, Radius: 3}}
	return &fixture{
		merger: &Merger{
			Runner:    tool.NewExecutor(nil, logger),
			Suite:     tool.Suite{SelectTool: tools.Select, ResponseTool: tools.Response, Cuts: tool.DefaultCuts(), Chatter: 3},
			Regions:   regions,
			Artifacts: m,
			Logger:    logger,
		},
		regions: regions,
		manager: m,
		dir:     t.TempDir(),
	}
}

func (f *fixture) entries(t *testing.T) []string {
	t.Helper()
	es, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	var names []string
	for _, e := range es {
		names = append(names, e.Name())
	}
	return names
}

func TestMerge_SingleInputIsCopiedByteForByte(t *testing.T) {
	f := newFixture(t)
	payload := []byte("SIMPLE  =                    T\x00\x01\x02binary tail")
	in := filepath.Join(t.TempDir(), "only.fits")
	require.NoError(t, os.WriteFile(in, payload, 0o644))
	out := filepath.Join(f.dir, "merged.fits")

	require.NoError(t, f.merger.Merge(context.Background(), []string{in}, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.FileExists(t, in, "input is copied, not moved")
	assert.Empty(t, f.regions.paths, "no region lookup for a copy")
	assert.Equal(t, []string{"merged.fits"}, f.entries(t))
}

func TestMerge_ManyInputsConserveEvents(t *testing.T) {
	f := newFixture(t)
	logPath := filepath.Join(t.TempDir(), "calls.log")
	t.Setenv("FAKE_LOG", logPath)

	src := t.TempDir()
	var inputs []string
	for i := 0; i < 4; i++ {
		inputs = append(inputs, tooltest.WriteEvents(t, src, "part"+string(rune('a'+i)), tooltest.Range(float64(i*25), 1, 25)))
	}
	out := filepath.Join(f.dir, "merged.txt")

	require.NoError(t, f.merger.Merge(context.Background(), inputs, out))

	assert.Equal(t, 100, tooltest.CountEvents(t, out))
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	assert.Equal(t, "0", lines[0])
	assert.Equal(t, "99", lines[99])

	assert.Equal(t, []string{inputs[0]}, f.regions.paths)
	calls := tooltest.ReadLog(t, logPath)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "infile=@")
	assert.Contains(t, calls[0], "ra=1.5 dec=-2 rad=3 tmin=INDEF tmax=INDEF")
	assert.Contains(t, calls[0], "chatter=0")

	assert.Empty(t, f.manager.Tracked(), "list file released")
	assert.Equal(t, []string{"merged.txt"}, f.entries(t))
	for _, in := range inputs {
		assert.FileExists(t, in)
	}
}

func TestMerge_ToolFailureLeavesNoOutput(t *testing.T) {
	f := newFixture(t)
	t.Setenv("FAKE_FAIL_MERGE", "1")
	src := t.TempDir()
	inputs := []string{
		tooltest.WriteEvents(t, src, "a", []float64{1}),
		tooltest.WriteEvents(t, src, "b", []float64{2}),
	}
	out := filepath.Join(f.dir, "merged.txt")

	err := f.merger.Merge(context.Background(), inputs, out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMerge))
	var me *core.MergeError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, inputs, me.Inputs)
	assert.Contains(t, err.Error(), "status 2")
	assert.Contains(t, err.Error(), "simulated merge failure")

	assert.Empty(t, f.entries(t))
	assert.Empty(t, f.manager.Tracked())
}

func TestMerge_FailureKeepsPreviousOutput(t *testing.T) {
	f := newFixture(t)
	t.Setenv("FAKE_FAIL_MERGE", "1")
	out := filepath.Join(f.dir, "merged.txt")
	require.NoError(t, os.WriteFile(out, []byte("previous"), 0o644))

	src := t.TempDir()
	err := f.merger.Merge(context.Background(), []string{
		tooltest.WriteEvents(t, src, "a", []float64{1}),
		tooltest.WriteEvents(t, src, "b", []float64{2}),
	}, out)
	require.Error(t, err)

	b, rerr := os.ReadFile(out)
	require.NoError(t, rerr)
	assert.Equal(t, "previous", string(b))
}

func TestMerge_RegionErrorIsAMergeError(t *testing.T) {
	f := newFixture(t)
	f.regions.err = &core.MetadataError{Path: "x", Msg: "no region"}
	src := t.TempDir()

	err := f.merger.Merge(context.Background(), []string{
		tooltest.WriteEvents(t, src, "a", []float64{1}),
		tooltest.WriteEvents(t, src, "b", []float64{2}),
	}, filepath.Join(f.dir, "out"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMerge)
	assert.ErrorIs(t, err, core.ErrMetadata)
}

func TestMerge_RejectsEmptyInputsAndMissingDirectory(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.merger.Merge(context.Background(), nil, filepath.Join(f.dir, "out")), core.ErrMerge)

	in := tooltest.WriteEvents(t, t.TempDir(), "a", []float64{1})
	err := f.merger.Merge(context.Background(), []string{in}, filepath.Join(f.dir, "missing", "out"))
	assert.ErrorIs(t, err, core.ErrMerge)
}
