package storage

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// flakyBackend fails writes while failing is set.
type flakyBackend struct {
	*MemoryBackend
	mu      sync.Mutex
	failing bool
	writes  int
}

func (f *flakyBackend) WritePoints(points []Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failing {
		return errors.New("backend unavailable")
	}
	return f.MemoryBackend.WritePoints(points)
}

func (f *flakyBackend) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func point(step int64, value float64) Point {
	return Point{RunID: "run", Step: step, Timestamp: time.Now(), Key: "loss", Value: value}
}

func TestPointQueueBatchSize(t *testing.T) {
	backend := NewMemoryBackend()
	queue := NewPointQueue(backend, time.Hour, 3)

	queue.Enqueue([]Point{point(1, 1), point(2, 2)})
	if queue.QueueSize() != 2 || backend.Len() != 0 {
		t.Fatalf("expected 2 queued and 0 written, got %d and %d", queue.QueueSize(), backend.Len())
	}

	queue.Enqueue([]Point{point(3, 3)})
	if queue.QueueSize() != 0 || backend.Len() != 3 {
		t.Errorf("expected a write at batch size, got %d queued and %d written", queue.QueueSize(), backend.Len())
	}
}

func TestPointQueueIntervalFlush(t *testing.T) {
	backend := NewMemoryBackend()
	queue := NewPointQueue(backend, 20*time.Millisecond, 100)
	queue.Start()
	defer queue.Stop()

	queue.Enqueue([]Point{point(1, 1)})

	deadline := time.Now().Add(2 * time.Second)
	for backend.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if backend.Len() != 1 {
		t.Errorf("expected the ticker to flush one point, got %d", backend.Len())
	}
}

func TestPointQueueStopFlushes(t *testing.T) {
	backend := NewMemoryBackend()
	queue := NewPointQueue(backend, time.Hour, 100)
	queue.Start()

	queue.Enqueue([]Point{point(1, 1), point(2, 2)})
	if err := queue.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if backend.Len() != 2 {
		t.Errorf("expected stop to write 2 points, got %d", backend.Len())
	}
}

func TestPointQueueKeepsPointsOnFailure(t *testing.T) {
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend(), failing: true}
	queue := NewPointQueue(backend, time.Hour, 100)

	queue.Enqueue([]Point{point(1, 1)})
	if err := queue.ForceFlush(); err == nil {
		t.Fatal("expected flush to fail")
	}
	if queue.QueueSize() != 1 {
		t.Fatalf("expected the point to stay queued, got %d", queue.QueueSize())
	}

	backend.setFailing(false)
	if err := queue.ForceFlush(); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if queue.QueueSize() != 0 || backend.Len() != 1 {
		t.Errorf("expected retry to write the point, got %d queued and %d written", queue.QueueSize(), backend.Len())
	}
}

func TestPointQueueConcurrentEnqueue(t *testing.T) {
	backend := NewMemoryBackend()
	queue := NewPointQueue(backend, time.Hour, 7)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				queue.Enqueue([]Point{point(int64(g*50+i), float64(i))})
			}
		}(g)
	}
	wg.Wait()
	queue.ForceFlush()

	if backend.Len() != 500 {
		t.Errorf("expected 500 points, got %d", backend.Len())
	}
}
