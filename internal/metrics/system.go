package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/thisdougb/runlog/internal/config"
	"go.uber.org/zap"
)

// Recorder is the part of a logger the collector needs.
type Recorder interface {
	Log(ctx context.Context, t *Tree) error
}

// SystemCollector periodically logs Go runtime statistics under the
// "system" key of a tree, alongside the training metrics of the same run.
type SystemCollector struct {
	recorder  Recorder
	startTime time.Time
	interval  time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastGC    uint32
}

// NewSystemCollector creates a collector sampling every RUNLOG_SAMPLE_RATE
// seconds. A rate of zero leaves the collector stopped.
func NewSystemCollector(recorder Recorder) *SystemCollector {
	sampleRate := config.IntValue("RUNLOG_SAMPLE_RATE")
	return NewSystemCollectorWithInterval(recorder, time.Duration(sampleRate)*time.Second)
}

// NewSystemCollectorWithInterval creates a collector with custom interval
func NewSystemCollectorWithInterval(recorder Recorder, interval time.Duration) *SystemCollector {
	ctx, cancel := context.WithCancel(context.Background())

	return &SystemCollector{
		recorder:  recorder,
		startTime: time.Now(),
		interval:  interval,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins background collection of system metrics
func (sc *SystemCollector) Start() {
	if !sc.IsEnabled() {
		return
	}

	sc.wg.Add(1)
	go sc.collectLoop()
}

// Stop ends collection and waits for an in-flight sample to finish.
func (sc *SystemCollector) Stop() {
	sc.cancel()
	sc.wg.Wait()
}

// IsEnabled reports whether the collector has a usable interval.
func (sc *SystemCollector) IsEnabled() bool {
	return sc.interval > 0
}

// GetInterval returns the collection interval
func (sc *SystemCollector) GetInterval() time.Duration {
	return sc.interval
}

func (sc *SystemCollector) collectLoop() {
	defer sc.wg.Done()

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sc.ctx.Done():
			return
		case <-ticker.C:
			sc.CollectOnce()
		}
	}
}

// CollectOnce takes one sample and hands it to the recorder.
func (sc *SystemCollector) CollectOnce() {
	if err := sc.recorder.Log(sc.ctx, sc.Sample()); err != nil {
		config.LogWarn(sc.ctx, "system metrics not recorded", zap.Error(err))
	}
}

// Sample reads the runtime statistics into a tree.
func (sc *SystemCollector) Sample() *Tree {
	memStats := &runtime.MemStats{}
	runtime.ReadMemStats(memStats)

	gcCycles := memStats.NumGC - sc.lastGC
	sc.lastGC = memStats.NumGC

	t := NewTree()
	system := t.Child("system")
	system.Set("memory_bytes", Scalar(float64(memStats.Alloc)))
	system.Set("heap_objects", Scalar(float64(memStats.HeapObjects)))
	system.Set("gc_cycles", Scalar(float64(gcCycles)))
	system.Set("goroutines", Scalar(float64(runtime.NumGoroutine())))
	system.Set("uptime_seconds", Scalar(time.Since(sc.startTime).Seconds()))
	return t
}
