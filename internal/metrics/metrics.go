// Package metrics writes the outcome of a run as a Prometheus text
// exposition, for node_exporter's textfile collector.
package metrics

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const namespace = "diffrsp"

// Run summarizes one finished run.
type Run struct {
	// Outcome is the run status: succeeded, partial, failed or merge_failed.
	Outcome   string
	Intervals int
	Succeeded int
	Failed    int
	Retained  int
	Duration  time.Duration
	Finished  time.Time
}

// Families renders r as metric families in a fixed order.
func Families(r Run) []*dto.MetricFamily {
	success := 0.0
	if r.Outcome == "succeeded" {
		success = 1
	}
	return []*dto.MetricFamily{
		gauge("last_run_success", "Whether the last run merged every interval.", success,
			label("outcome", r.Outcome)),
		gauge("last_run_duration_seconds", "Wall time of the last run.", r.Duration.Seconds()),
		gauge("last_run_timestamp_seconds", "Unix time the last run finished.", float64(r.Finished.Unix())+float64(r.Finished.Nanosecond())/1e9),
		{
			Name: ptr(namespace + "_last_run_intervals"),
			Help: ptr("Intervals of the last run by final state."),
			Type: dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{
				gaugeMetric(float64(r.Intervals), label("state", "total")),
				gaugeMetric(float64(r.Succeeded), label("state", "completed")),
				gaugeMetric(float64(r.Failed), label("state", "failed")),
			},
		},
		gauge("last_run_retained_temp_files", "Temporary files left on disk by the last run.", float64(r.Retained)),
	}
}

// WriteFile replaces path with the exposition of r. The file is written
// next to path and renamed, so the collector never reads a torn file.
func WriteFile(path string, r Run) error {
	var buf bytes.Buffer
	for _, mf := range Families(r) {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write metrics: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write metrics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func gauge(name, help string, v float64, labels ...*dto.LabelPair) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(namespace + "_" + name),
		Help:   ptr(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{gaugeMetric(v, labels...)},
	}
}

func gaugeMetric(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: ptr(v)}}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: ptr(name), Value: ptr(value)}
}

func ptr[T any](v T) *T { return &v }
