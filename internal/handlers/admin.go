package handlers

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/thisdougb/runlog/internal/core"
	"github.com/thisdougb/runlog/internal/storage"
)

// KeySeries holds every stored point of one key
type KeySeries struct {
	Key    string          `json:"key"`
	Points []storage.Point `json:"points"`
}

// RunExport represents the complete export of a run
type RunExport struct {
	RunID      string            `json:"run_id"`
	Attributes map[string]string `json:"attributes"`
	Series     []KeySeries       `json:"series"`
	Summary    ExportSummary     `json:"summary"`
}

// ExportSummary provides aggregate information about the export
type ExportSummary struct {
	TotalKeys   int   `json:"total_keys"`
	TotalPoints int   `json:"total_points"`
	LastStep    int64 `json:"last_step"`
}

// RunSummary provides per-key statistics for a run
type RunSummary struct {
	RunID         string                  `json:"run_id"`
	Attributes    map[string]string       `json:"attributes,omitempty"`
	Values        map[string]ValueSummary `json:"values,omitempty"`
	Labels        map[string]string       `json:"labels,omitempty"`
	SystemMetrics *SystemMetricsSummary   `json:"system_metrics,omitempty"`
	TotalPoints   int                     `json:"total_points"`
}

// ValueSummary provides statistical summary for value metrics
type ValueSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	First float64 `json:"first"`
	Last  float64 `json:"last"`
}

// SystemMetricsSummary collects the runtime statistics logged under the
// system key
type SystemMetricsSummary struct {
	MemoryBytes   *ValueSummary `json:"memory_bytes,omitempty"`
	HeapObjects   *ValueSummary `json:"heap_objects,omitempty"`
	Goroutines    *ValueSummary `json:"goroutines,omitempty"`
	UptimeSeconds *ValueSummary `json:"uptime_seconds,omitempty"`
}

// systemPrefix matches keys written by the system collector with the
// default separator
const systemPrefix = "system_"

// ExportRun collects every key, point and attribute of a run
func ExportRun(manager *storage.Manager, runID string) (*RunExport, error) {
	if manager == nil || !manager.IsEnabled() {
		return nil, storage.ErrPersistenceDisabled
	}

	attrs, err := manager.ReadAttributes(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read attributes: %w", err)
	}

	keys, err := manager.ListKeys(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	export := &RunExport{RunID: runID, Attributes: attrs, Series: []KeySeries{}}
	for _, key := range keys {
		points, err := manager.ReadSeries(runID, key, time.Time{}, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}

		export.Series = append(export.Series, KeySeries{Key: key, Points: points})
		export.Summary.TotalPoints += len(points)
		for _, p := range points {
			if p.Step > export.Summary.LastStep {
				export.Summary.LastStep = p.Step
			}
		}
	}
	export.Summary.TotalKeys = len(keys)

	return export, nil
}

// ExportRunJSON is ExportRun rendered as indented JSON
func ExportRunJSON(manager *storage.Manager, runID string) (string, error) {
	export, err := ExportRun(manager, runID)
	if err != nil {
		return "", err
	}

	output, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(output), nil
}

// GetRunSummary summarises every key of a run
func GetRunSummary(manager *storage.Manager, runID string) (*RunSummary, error) {
	export, err := ExportRun(manager, runID)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		RunID:       runID,
		Attributes:  export.Attributes,
		Values:      make(map[string]ValueSummary),
		Labels:      make(map[string]string),
		TotalPoints: export.Summary.TotalPoints,
	}

	for _, series := range export.Series {
		var values []float64
		for _, p := range series.Points {
			if p.IsText {
				summary.Labels[series.Key] = p.Text
				continue
			}
			values = append(values, p.Value)
		}
		if vs := calculateValueSummary(values); vs != nil {
			summary.Values[series.Key] = *vs
		}
	}

	summary.SystemMetrics = generateSystemMetricsSummary(summary.Values)
	return summary, nil
}

// generateSystemMetricsSummary picks the system collector keys out of the
// per-key summaries
func generateSystemMetricsSummary(values map[string]ValueSummary) *SystemMetricsSummary {
	summary := &SystemMetricsSummary{}
	found := false

	for key, vs := range values {
		if !strings.HasPrefix(key, systemPrefix) {
			continue
		}
		vs := vs
		switch strings.TrimPrefix(key, systemPrefix) {
		case "memory_bytes":
			summary.MemoryBytes = &vs
		case "heap_objects":
			summary.HeapObjects = &vs
		case "goroutines":
			summary.Goroutines = &vs
		case "uptime_seconds":
			summary.UptimeSeconds = &vs
		default:
			continue
		}
		found = true
	}

	if !found {
		return nil
	}
	return summary
}

// calculateValueSummary computes statistics for a slice of values in step
// order
func calculateValueSummary(values []float64) *ValueSummary {
	if len(values) == 0 {
		return nil
	}

	min, max, avg, count := core.CalculateStats(values)
	return &ValueSummary{
		Count: count,
		Min:   min,
		Max:   max,
		Avg:   avg,
		First: values[0],
		Last:  values[len(values)-1],
	}
}
