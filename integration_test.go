//go:build dev

package runlog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/thisdougb/runlog/internal/storage"
)

func TestIntegrationSQLitePersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runlog.db")

	// Set environment variables for the SQLite sink
	t.Setenv("RUNLOG_TOKEN", "integration-token")
	t.Setenv("RUNLOG_PERSISTENCE_ENABLED", "true")
	t.Setenv("RUNLOG_DB_DRIVER", "sqlite")
	t.Setenv("RUNLOG_DB_PATH", dbPath)
	t.Setenv("RUNLOG_FLUSH_INTERVAL", "1s")
	t.Setenv("RUNLOG_BATCH_SIZE", "10")

	cfg := ConfigFromEnv()
	cfg.Endpoint = ""
	cfg.SampleRate = 0
	sinks, err := SinksFromEnv(context.Background(), "integration", prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("SinksFromEnv failed: %v", err)
	}
	cfg.Sinks = sinks

	var runID string
	err = WithRun(context.Background(), cfg, func(r *Run) error {
		runID = r.ID()
		for step := 0; step < 25; step++ {
			tree := NewTree()
			tree.Child("train").Set("loss", Scalar(1/float64(step+1)))
			tree.Child("train").Set("phase", Text("main"))
			if err := r.Log(context.Background(), tree); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("SQLite database file was not created")
	}

	// Reopen and read back what the run wrote
	backend, err := storage.NewSQLiteBackend(storage.SQLiteConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer backend.Close()

	points, err := backend.ReadSeries(runID, "train_loss", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadSeries failed: %v", err)
	}
	if len(points) != 25 || points[24].Step != 25 {
		t.Errorf("expected 25 points ending at step 25, got %d", len(points))
	}

	attrs, err := backend.ReadAttributes(runID)
	if err != nil {
		t.Fatalf("ReadAttributes failed: %v", err)
	}
	for _, key := range []string{"train/start", "train/end", "package_versions/go", "host"} {
		if attrs[key] == "" {
			t.Errorf("missing attribute %s", key)
		}
	}
}

func TestIntegrationDashboard(t *testing.T) {
	var mu sync.Mutex
	requests := make(map[string]int)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer integration-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		mu.Lock()
		requests[r.Method]++
		mu.Unlock()
	}))
	defer server.Close()

	cfg := Config{Token: "integration-token", Project: "team/proj", Endpoint: server.URL}
	err := WithRun(context.Background(), cfg, func(r *Run) error {
		for step := 0; step < 3; step++ {
			if err := r.LogMap(context.Background(), map[string]any{"loss": float64(step)}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	// create run plus three batches
	if requests["POST"] != 4 {
		t.Errorf("expected 4 POST requests, got %d", requests["POST"])
	}
	// start, packages, host and end attributes
	if requests["PUT"] != 4 {
		t.Errorf("expected 4 PUT requests, got %d", requests["PUT"])
	}
}

func TestIntegrationDisabledRunSendsNothing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}))
	defer server.Close()

	cfg := Config{Disable: true, Endpoint: server.URL}
	err := WithRun(context.Background(), cfg, func(r *Run) error {
		return r.LogMap(context.Background(), map[string]any{"loss": 1.0})
	})
	if err != nil {
		t.Fatalf("disabled run failed: %v", err)
	}
}
