package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/thisdougb/runlog/internal/metrics"
	"github.com/thisdougb/runlog/internal/sink"
)

// recordingSink keeps everything it is given.
type recordingSink struct {
	mu      sync.Mutex
	batches []sink.Batch
	attrs   map[string]string
	closed  int
	err     error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{attrs: make(map[string]string)}
}

func (r *recordingSink) Write(_ context.Context, b sink.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, b)
	return nil
}

func (r *recordingSink) SetAttribute(_ context.Context, _, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attrs[key] = value
	return nil
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func lossTree(loss float64) *metrics.Tree {
	tree := metrics.NewTree()
	tree.Child("train").Set("loss", metrics.Vector(loss)).Set("phase", metrics.Text("warmup"))
	return tree
}

func localConfig(sinks ...sink.Sink) Config {
	return Config{Token: "secret", Project: "lab/motion", Name: "test", RollingSize: 2, Sinks: sinks}
}

func TestRunLogsToSinks(t *testing.T) {
	rec := newRecordingSink()
	run, err := NewRun(context.Background(), localConfig(rec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	run.Log(ctx, lossTree(0.75))
	run.Log(ctx, lossTree(0.25))

	if rec.count() != 2 {
		t.Fatalf("expected 2 batches, got %d", rec.count())
	}
	second := rec.batches[1]
	if second.Step != 2 || second.RunID != run.ID() {
		t.Errorf("unexpected batch header %+v", second)
	}
	if v, _ := second.Values.Get("train_loss"); v.Number != 0.25 {
		t.Errorf("expected train_loss 0.25, got %v", v)
	}

	if mean, _ := run.State().RollingMean("train_loss"); mean != 0.5 {
		t.Errorf("expected rolling mean 0.5, got %v", mean)
	}
	if run.Step() != 2 {
		t.Errorf("expected step 2, got %d", run.Step())
	}
}

func TestRunRecordsStartAndEnd(t *testing.T) {
	rec := newRecordingSink()
	run, err := NewRun(context.Background(), localConfig(rec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, key := range []string{AttrStart, AttrPackages, AttrHost} {
		if rec.attrs[key] == "" {
			t.Errorf("expected %s to be recorded at start", key)
		}
	}
	if _, ok := rec.attrs[AttrEnd]; ok {
		t.Error("train/end recorded before Close")
	}

	if err := run.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	end, err := time.Parse(time.RFC3339Nano, rec.attrs[AttrEnd])
	if err != nil {
		t.Fatalf("train/end is not a timestamp: %v", err)
	}
	start, _ := time.Parse(time.RFC3339Nano, rec.attrs[AttrStart])
	if end.Before(start) {
		t.Errorf("end %v before start %v", end, start)
	}
	if rec.closed != 1 {
		t.Errorf("expected the sink to be closed once, got %d", rec.closed)
	}
}

func TestRunMissingToken(t *testing.T) {
	rec := newRecordingSink()
	cfg := localConfig(rec)
	cfg.Token = ""

	if _, err := NewRun(context.Background(), cfg); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if rec.closed != 1 {
		t.Error("sinks should be closed when the run cannot open")
	}
}

func TestRunDisabled(t *testing.T) {
	var testCases = []struct {
		description string
		disable     bool
		force       bool
		token       string
		expected    int
	}{
		{"disabled needs no token", true, false, "", 0},
		{"force overrides disable", true, true, "secret", 1},
		{"enabled", false, false, "secret", 1},
	}

	for _, tc := range testCases {
		rec := newRecordingSink()
		cfg := localConfig(rec)
		cfg.Disable, cfg.Force, cfg.Token = tc.disable, tc.force, tc.token

		run, err := NewRun(context.Background(), cfg)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.description, err)
			continue
		}
		if err := run.Log(context.Background(), lossTree(1)); err != nil {
			t.Errorf("%s: unexpected log error %v", tc.description, err)
		}
		run.Close()

		if rec.count() != tc.expected {
			t.Errorf("%s: expected %d batches, got %d", tc.description, tc.expected, rec.count())
		}
		if tc.disable && !tc.force && len(rec.attrs) != 0 {
			t.Errorf("%s: a disabled run should record nothing, got %v", tc.description, rec.attrs)
		}
	}
}

func TestRunLogAfterClose(t *testing.T) {
	run, _ := NewRun(context.Background(), localConfig())
	run.Close()

	if err := run.Log(context.Background(), lossTree(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := run.Close(); err != nil {
		t.Errorf("second close should succeed, got %v", err)
	}
	if !run.IsClosed() {
		t.Error("expected closed run")
	}
}

func TestRunCloseWithoutLog(t *testing.T) {
	rec := newRecordingSink()
	run, _ := NewRun(context.Background(), localConfig(rec))

	if err := run.Close(); err != nil {
		t.Errorf("close without log failed: %v", err)
	}
}

func TestRunConversionErrorSkipsBatch(t *testing.T) {
	rec := newRecordingSink()
	run, _ := NewRun(context.Background(), localConfig(rec))
	defer run.Close()

	tree := metrics.NewTree()
	tree.Set("grad", metrics.Vector(1, 2))

	if err := run.Log(context.Background(), tree); !errors.Is(err, metrics.ErrTypeConversion) {
		t.Fatalf("expected ErrTypeConversion, got %v", err)
	}
	if rec.count() != 0 || run.Step() != 0 {
		t.Errorf("a failed tree should not be sent or counted")
	}
}

func TestRunJoinsSinkErrors(t *testing.T) {
	failing := newRecordingSink()
	failing.err = errors.New("disk full")
	healthy := newRecordingSink()

	run, _ := NewRun(context.Background(), localConfig(failing, healthy))
	defer run.Close()

	err := run.Log(context.Background(), lossTree(1))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("expected the sink error, got %v", err)
	}
	if healthy.count() != 1 {
		t.Error("a failing sink should not block the others")
	}
}

func TestRunSeparator(t *testing.T) {
	rec := newRecordingSink()
	cfg := localConfig(rec)
	cfg.Separator = "/"
	run, _ := NewRun(context.Background(), cfg)
	defer run.Close()

	run.Log(context.Background(), lossTree(1))
	if _, ok := rec.batches[0].Values.Get("train/loss"); !ok {
		t.Errorf("expected slash separated keys, got %v", rec.batches[0].Values.Keys())
	}
}

func TestRunConcurrentLog(t *testing.T) {
	rec := newRecordingSink()
	run, _ := NewRun(context.Background(), localConfig(rec))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				run.Log(context.Background(), lossTree(float64(i)))
				if i%10 == 0 {
					_ = run.Dump()
				}
			}
		}()
	}
	wg.Wait()
	run.Close()

	if rec.count() != 400 || run.Step() != 400 {
		t.Errorf("expected 400 batches and steps, got %d and %d", rec.count(), run.Step())
	}

	seen := make(map[int64]bool)
	for _, b := range rec.batches {
		if seen[b.Step] {
			t.Fatalf("step %d sent twice", b.Step)
		}
		seen[b.Step] = true
	}
}

func TestRunSystemCollector(t *testing.T) {
	rec := newRecordingSink()
	cfg := localConfig(rec)
	cfg.SampleRate = 10 * time.Millisecond
	run, _ := NewRun(context.Background(), cfg)

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	run.Close()

	if rec.count() == 0 {
		t.Fatal("expected system samples")
	}
	if _, ok := rec.batches[0].Values.Get("system_goroutines"); !ok {
		t.Errorf("expected system keys, got %v", rec.batches[0].Values.Keys())
	}
}

func TestRunDump(t *testing.T) {
	run, _ := NewRun(context.Background(), localConfig())
	defer run.Close()
	run.Log(context.Background(), lossTree(0.5))

	var dump struct {
		RunID   string
		Project string
		Step    int64
		Metrics map[string]struct {
			Last       any      `json:"last"`
			RollingAvg *float64 `json:"rolling_avg"`
			Count      int64    `json:"count"`
		}
	}
	if err := json.Unmarshal([]byte(run.Dump()), &dump); err != nil {
		t.Fatalf("dump is not JSON: %v", err)
	}
	if dump.RunID != run.ID() || dump.Project != "lab/motion" || dump.Step != 1 {
		t.Errorf("unexpected dump header %+v", dump)
	}
	if m := dump.Metrics["train_loss"]; m.Last != 0.5 || m.RollingAvg == nil || m.Count != 1 {
		t.Errorf("unexpected train_loss entry %+v", m)
	}
	if m := dump.Metrics["train_phase"]; m.Last != "warmup" || m.RollingAvg != nil {
		t.Errorf("labels have no rolling average, got %+v", m)
	}
}

func TestRunWithDashboard(t *testing.T) {
	var mu sync.Mutex
	paths := make(map[string]int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths[r.Method+" "+r.URL.Path]++
		mu.Unlock()
	}))
	defer srv.Close()

	cfg := localConfig()
	cfg.Endpoint = srv.URL
	run, err := NewRun(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run.Log(context.Background(), lossTree(1))
	run.Close()

	mu.Lock()
	defer mu.Unlock()
	prefix := "/api/v1/runs/" + run.ID()
	expected := map[string]int{
		"POST /api/v1/runs":                       1,
		"POST " + prefix + "/points":              1,
		"PUT " + prefix + "/attributes/train/end": 1,
	}
	for path, n := range expected {
		if paths[path] != n {
			t.Errorf("expected %d %s, got %d (%v)", n, path, paths[path], paths)
		}
	}
}

func TestRunNonFiniteLoss(t *testing.T) {
	var mu sync.Mutex
	var points []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/points") {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			points = append(points, string(body))
			mu.Unlock()
		}
	}))
	defer srv.Close()

	cfg := localConfig()
	cfg.Endpoint = srv.URL
	run, err := NewRun(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer run.Close()

	tree := metrics.NewTree().Set("loss", metrics.Scalar(math.NaN())).Set("acc", metrics.Scalar(0.5))
	if err := run.Log(context.Background(), tree); err != nil {
		t.Fatalf("a NaN loss should still be sent: %v", err)
	}

	mu.Lock()
	if len(points) != 1 || !strings.Contains(points[0], `"loss":"NaN"`) || !strings.Contains(points[0], `"acc":0.5`) {
		t.Errorf("unexpected points request %v", points)
	}
	mu.Unlock()

	var dump struct {
		Metrics map[string]struct {
			Last       any `json:"last"`
			RollingAvg any `json:"rolling_avg"`
		}
	}
	if err := json.Unmarshal([]byte(run.Dump()), &dump); err != nil {
		t.Fatalf("dump is not JSON: %v", err)
	}
	if m := dump.Metrics["loss"]; m.Last != "NaN" || m.RollingAvg != "NaN" {
		t.Errorf("expected NaN in the dump, got %+v", m)
	}
	if m := dump.Metrics["acc"]; m.Last != 0.5 {
		t.Errorf("expected acc 0.5 in the dump, got %+v", m)
	}
}

func TestRunDashboardUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	rec := newRecordingSink()
	cfg := localConfig(rec)
	cfg.Endpoint = srv.URL

	if _, err := NewRun(context.Background(), cfg); err == nil {
		t.Fatal("expected an error when the dashboard refuses the run")
	}
	if rec.closed != 1 {
		t.Error("sinks should be closed when the run cannot open")
	}
}

func TestCalculateStats(t *testing.T) {
	values := []float64{1.0, 2.0, 3.0, 4.0, 5.0}

	min, max, avg, count := CalculateStats(values)

	if min != 1 || max != 5 || avg != 3 || count != 5 {
		t.Errorf("expected 1 5 3 5, got %v %v %v %v", min, max, avg, count)
	}

	if _, _, _, count := CalculateStats(nil); count != 0 {
		t.Errorf("expected zero count for no values, got %d", count)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("RUNLOG_TOKEN", "abc")
	t.Setenv("RUNLOG_PROJECT", "lab/motion")
	t.Setenv("RUNLOG_DISABLE", "true")
	t.Setenv("RUNLOG_SAMPLE_RATE", "0")

	cfg := ConfigFromEnv()
	if cfg.Token != "abc" || cfg.Project != "lab/motion" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Active() {
		t.Error("RUNLOG_DISABLE should deactivate the run")
	}
	if cfg.Separator != "_" || cfg.SampleRate != 0 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
