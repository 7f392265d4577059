package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var (
	_ Logger    = (*Run)(nil)
	_ io.Closer = (*Run)(nil)
	_ Logger    = Nop{}
)

// countingLogger only implements Log
type countingLogger struct {
	calls int
	err   error
}

func (c *countingLogger) Log(context.Context, *Tree) error {
	c.calls++
	return c.err
}

// closingLogger gets Close from Nop and tracks it
type closingLogger struct {
	Nop
	logged int
}

func (c *closingLogger) Log(context.Context, *Tree) error {
	c.logged++
	return nil
}

type trackedCloser struct {
	countingLogger
	closed   int
	closeErr error
}

func (t *trackedCloser) Close() error {
	t.closed++
	return t.closeErr
}

func localConfig(t *testing.T) Config {
	t.Helper()
	s, err := StorageSink("memory", "")
	if err != nil {
		t.Fatalf("StorageSink failed: %v", err)
	}
	return Config{Token: "test-token", Project: "team/proj", Name: "unit", Sinks: []Sink{s}}
}

func TestCloseWithoutCloser(t *testing.T) {
	l := &countingLogger{}

	if err := Close(l); err != nil {
		t.Errorf("Close on a logger without Close should be a no-op, got %v", err)
	}
	if l.calls != 0 {
		t.Error("Close must not log")
	}
}

func TestCloseEmbeddedNop(t *testing.T) {
	l := &closingLogger{}

	if err := Close(l); err != nil {
		t.Errorf("embedded Nop Close returned %v", err)
	}
	l.Log(context.Background(), NewTree())
	if l.logged != 1 {
		t.Error("the outer Log should shadow Nop.Log")
	}
}

func TestCloseCallsCloser(t *testing.T) {
	l := &trackedCloser{closeErr: errors.New("disk full")}

	err := Close(l)
	if l.closed != 1 || err == nil || err.Error() != "disk full" {
		t.Errorf("expected one Close returning its error, got %d %v", l.closed, err)
	}
}

func TestMulti(t *testing.T) {
	first := &countingLogger{err: errors.New("first failed")}
	second := &trackedCloser{}
	third := &countingLogger{}

	m := Multi(first, second, third)

	err := m.Log(context.Background(), NewTree().Set("loss", Scalar(1)))
	if err == nil || !strings.Contains(err.Error(), "first failed") {
		t.Errorf("expected the first error, got %v", err)
	}
	if first.calls != 1 || second.calls != 1 || third.calls != 1 {
		t.Errorf("every logger should see the tree: %d %d %d", first.calls, second.calls, third.calls)
	}

	if err := Close(m); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if second.closed != 1 {
		t.Error("Multi should close the loggers that can be closed")
	}
}

func TestNormalizeExamples(t *testing.T) {
	var testCases = []struct {
		description string
		tree        *Tree
		expected    map[string]string
	}{
		{
			"flat input unchanged",
			NewTree().Set("loss", Scalar(0.5)).Set("phase", Text("eval")),
			map[string]string{"loss": "0.5", "phase": "eval"},
		},
		{
			"collision keeps the later value",
			NewTree().Set("a", NewTree().Set("b", Scalar(1))).Set("a_b", Scalar(2)),
			map[string]string{"a_b": "2"},
		},
		{
			"deep nesting",
			NewTree().Set("x", NewTree().Set("y", NewTree().Set("z", Text("label")))),
			map[string]string{"x_y_z": "label"},
		},
		{
			"single element tensor",
			NewTree().Set("acc", Array{Values: []float64{0.9}, Shape: []int{1, 1}}),
			map[string]string{"acc": "0.9"},
		},
		{
			"empty tree",
			NewTree(),
			map[string]string{},
		},
	}

	for _, tc := range testCases {
		values, err := Normalize(tc.tree, "")
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.description, err)
			continue
		}
		if values.Len() != len(tc.expected) {
			t.Errorf("%s: expected %d keys, got %v", tc.description, len(tc.expected), values.Keys())
		}
		for k, want := range tc.expected {
			got, ok := values.Get(k)
			if !ok || got.String() != want {
				t.Errorf("%s: %s = %v, want %s", tc.description, k, got, want)
			}
		}
	}
}

func TestNormalizeRejectsMultiElementArray(t *testing.T) {
	_, err := Normalize(NewTree().Set("w", Vector(1, 2)), "")

	if !errors.Is(err, ErrTypeConversion) {
		t.Fatalf("expected ErrTypeConversion, got %v", err)
	}
	var ce *ConversionError
	if !errors.As(err, &ce) {
		t.Errorf("expected a *ConversionError, got %T", err)
	}
}

func TestFromMap(t *testing.T) {
	tree, err := FromMap(map[string]any{"x": map[string]any{"y": map[string]any{"z": "label"}}, "n": uint8(3)})
	if err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}
	values, err := Normalize(tree, "")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if strings.Join(values.Keys(), ",") != "n,x_y_z" {
		t.Errorf("unexpected keys %v", values.Keys())
	}

	if _, err := FromMap(map[string]any{"when": struct{}{}}); !errors.Is(err, ErrTypeConversion) {
		t.Errorf("expected ErrTypeConversion for a struct, got %v", err)
	}
}

func TestRunLogMapRejectsUnsupported(t *testing.T) {
	r, err := NewRun(context.Background(), localConfig(t))
	if err != nil {
		t.Fatalf("NewRun failed: %v", err)
	}
	defer r.Close()

	err = r.LogMap(context.Background(), map[string]any{"done": make(chan int)})
	if !errors.Is(err, ErrTypeConversion) {
		t.Errorf("expected ErrTypeConversion, got %v", err)
	}
	if r.Step() != 0 {
		t.Errorf("nothing should be logged, step %d", r.Step())
	}
}

func TestWithRunClosesOnError(t *testing.T) {
	var run *Run
	failure := errors.New("diverged")

	err := WithRun(context.Background(), localConfig(t), func(r *Run) error {
		run = r
		if err := r.Log(context.Background(), NewTree().Set("loss", Scalar(3))); err != nil {
			return err
		}
		return failure
	})

	if !errors.Is(err, failure) {
		t.Errorf("expected the callback error, got %v", err)
	}
	if run == nil || !run.IsClosed() {
		t.Fatal("WithRun should close the run")
	}
	if err := run.Log(context.Background(), NewTree()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after WithRun, got %v", err)
	}
}

func TestWithRunMissingToken(t *testing.T) {
	called := false
	err := WithRun(context.Background(), Config{}, func(*Run) error {
		called = true
		return nil
	})

	if !errors.Is(err, ErrMissingToken) || called {
		t.Errorf("expected ErrMissingToken without calling fn, got %v %v", err, called)
	}
}

func TestWithRunDisabledNeedsNoToken(t *testing.T) {
	err := WithRun(context.Background(), Config{Disable: true}, func(r *Run) error {
		if r.Active() {
			t.Error("disabled run should not be active")
		}
		return r.Log(context.Background(), NewTree().Set("loss", Scalar(1)))
	})
	if err != nil {
		t.Errorf("disabled run failed: %v", err)
	}
}

func TestRunLatestAndRollingMean(t *testing.T) {
	cfg := localConfig(t)
	cfg.RollingSize = 2

	r, err := NewRun(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewRun failed: %v", err)
	}
	defer r.Close()

	for _, loss := range []float64{4, 2, 1} {
		if err := r.LogMap(context.Background(), map[string]any{"train": map[string]any{"loss": loss}}); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	if v, ok := r.Latest("train_loss"); !ok || v.Number != 1 {
		t.Errorf("expected latest 1, got %v", v)
	}
	if mean, ok := r.RollingMean("train_loss"); !ok || mean != 1.5 {
		t.Errorf("expected rolling mean 1.5, got %v", mean)
	}
	if r.Step() != 3 {
		t.Errorf("expected step 3, got %d", r.Step())
	}
}

func TestRunHandler(t *testing.T) {
	r, err := NewRun(context.Background(), localConfig(t))
	if err != nil {
		t.Fatalf("NewRun failed: %v", err)
	}

	r.Log(context.Background(), NewTree().Set("loss", Scalar(0.5)).Set("acc", Scalar(0.8)))

	server := httptest.NewServer(r.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/keys?run=" + r.ID())
	if err != nil {
		t.Fatalf("GET /keys failed: %v", err)
	}
	var keys []string
	json.NewDecoder(resp.Body).Decode(&keys)
	resp.Body.Close()
	if strings.Join(keys, ",") != "acc,loss" {
		t.Errorf("expected acc,loss, got %v", keys)
	}

	resp, err = http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	var dump map[string]any
	json.NewDecoder(resp.Body).Decode(&dump)
	resp.Body.Close()
	if dump["RunID"] != r.ID() {
		t.Errorf("expected the run id in the dump, got %v", dump["RunID"])
	}

	r.Close()

	resp, err = http.Get(server.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after Close, got %d", resp.StatusCode)
	}
}

func TestRunHandlerWithoutStorage(t *testing.T) {
	r, err := NewRun(context.Background(), Config{Token: "test-token"})
	if err != nil {
		t.Fatalf("NewRun failed: %v", err)
	}
	defer r.Close()

	server := httptest.NewServer(r.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/keys")
	if err != nil {
		t.Fatalf("GET /keys failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 without a storage sink, got %d", resp.StatusCode)
	}
}

func TestStorageSinkUnknownDriver(t *testing.T) {
	if _, err := StorageSink("mongo", ""); err == nil {
		t.Error("expected an error for an unknown driver")
	}
}
