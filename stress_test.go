//go:build longrunning

package runlog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestStressConcurrentLogging logs from many goroutines while the
// handlers are read and the system collector samples in the background.
func TestStressConcurrentLogging(t *testing.T) {
	cfg := localConfig(t)
	cfg.SampleRate = 10 * time.Millisecond

	r, err := NewRun(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewRun failed: %v", err)
	}

	const workers, steps = 20, 500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < steps; i++ {
				tree := NewTree()
				tree.Child(fmt.Sprintf("worker%d", w)).Set("value", Scalar(float64(i)))
				if err := r.Log(context.Background(), tree); err != nil {
					t.Errorf("Log failed: %v", err)
					return
				}
				if i%100 == 0 {
					_ = r.Dump()
				}
			}
		}(w)
	}
	wg.Wait()

	if r.Step() < workers*steps {
		t.Errorf("expected at least %d steps, got %d", workers*steps, r.Step())
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

// TestStressWideTrees normalizes trees with many keys.
func TestStressWideTrees(t *testing.T) {
	tree := NewTree()
	for layer := 0; layer < 200; layer++ {
		child := tree.Child(fmt.Sprintf("layer%d", layer))
		for i := 0; i < 50; i++ {
			child.SetInt(i, Vector(float64(i)))
		}
	}

	values, err := Normalize(tree, "/")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if values.Len() != 200*50 {
		t.Errorf("expected %d keys, got %d", 200*50, values.Len())
	}
	if CountParams(tree) != 200*50 {
		t.Errorf("expected %d params, got %d", 200*50, CountParams(tree))
	}
}
