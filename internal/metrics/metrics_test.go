package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readBack(t *testing.T, path string) map[string]*dto.MetricFamily {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(f)
	require.NoError(t, err)
	return mfs
}

func TestWriteFile_RoundTripsThroughTheTextParser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diffrsp.prom")
	finished := time.Unix(1700000000, 0)

	require.NoError(t, WriteFile(path, Run{
		Outcome:   "partial",
		Intervals: 4,
		Succeeded: 3,
		Failed:    1,
		Retained:  2,
		Duration:  90 * time.Second,
		Finished:  finished,
	}))

	mfs := readBack(t, path)
	require.Contains(t, mfs, "diffrsp_last_run_success")
	success := mfs["diffrsp_last_run_success"].GetMetric()[0]
	assert.Equal(t, 0.0, success.GetGauge().GetValue())
	assert.Equal(t, "outcome", success.GetLabel()[0].GetName())
	assert.Equal(t, "partial", success.GetLabel()[0].GetValue())

	assert.Equal(t, 90.0, mfs["diffrsp_last_run_duration_seconds"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1700000000.0, mfs["diffrsp_last_run_timestamp_seconds"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 2.0, mfs["diffrsp_last_run_retained_temp_files"].GetMetric()[0].GetGauge().GetValue())

	byState := map[string]float64{}
	for _, m := range mfs["diffrsp_last_run_intervals"].GetMetric() {
		byState[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{"total": 4, "completed": 3, "failed": 1}, byState)
}

func TestWriteFile_ReplacesPreviousContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "diffrsp.prom")
	require.NoError(t, os.WriteFile(path, []byte("stale 1\n"), 0o644))

	require.NoError(t, WriteFile(path, Run{Outcome: "succeeded", Intervals: 1, Succeeded: 1}))

	mfs := readBack(t, path)
	assert.NotContains(t, mfs, "stale")
	assert.Equal(t, 1.0, mfs["diffrsp_last_run_success"].GetMetric()[0].GetGauge().GetValue())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteFile_MissingDirectory(t *testing.T) {
	assert.Error(t, WriteFile(filepath.Join(t.TempDir(), "no", "such", "x.prom"), Run{}))
}
