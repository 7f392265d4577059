package core

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/thisdougb/runlog/internal/metrics"
)

type keyState struct {
	last    metrics.Value
	rolling *metrics.RollingMetric
	count   int64
	updated time.Time
}

// State keeps the latest value and a rolling mean for every key a run has
// logged. It is read by the HTTP handlers while the run keeps writing.
type State struct {
	mu          sync.RWMutex
	rollingSize int
	entries     *metrics.Flat[*keyState]
}

// NewState creates an empty state averaging over rollingSize samples.
func NewState(rollingSize int) *State {
	if rollingSize < 1 {
		rollingSize = 1
	}
	return &State{
		rollingSize: rollingSize,
		entries:     metrics.NewFlat[*keyState](),
	}
}

// Record folds one normalized batch into the state.
func (s *State) Record(values *metrics.Flat[metrics.Value], at time.Time) {
	if values == nil {
		return
	}

	s.mu.Lock() // enter CRITICAL SECTION
	values.Range(func(key string, v metrics.Value) bool {
		ks, ok := s.entries.Get(key)
		if !ok {
			ks = &keyState{}
			s.entries.Set(key, ks)
		}
		ks.last = v
		ks.count++
		ks.updated = at
		if !v.IsText {
			if ks.rolling == nil {
				ks.rolling = metrics.NewRollingMetric(s.rollingSize)
			}
			ks.rolling.Add(v.Number)
		}
		return true
	})
	s.mu.Unlock() // end CRITICAL SECTION
}

// Latest returns the last value logged under key.
func (s *State) Latest(key string) (metrics.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ks, ok := s.entries.Get(key)
	if !ok {
		return metrics.Value{}, false
	}
	return ks.last, true
}

// RollingMean returns the mean of the recent numeric values of key.
func (s *State) RollingMean(key string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ks, ok := s.entries.Get(key)
	if !ok || ks.rolling == nil {
		return 0, false
	}
	return ks.rolling.Mean(), true
}

// Keys lists the logged keys in first-seen order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Keys()
}

type keyDump struct {
	Last       metrics.Value  `json:"last"`
	RollingAvg *metrics.Value `json:"rolling_avg,omitempty"`
	Count      int64          `json:"count"`
	Updated    time.Time      `json:"updated"`
}

// MarshalJSON writes one object per key, in first-seen order.
func (s *State) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := metrics.NewFlat[keyDump]()
	s.entries.Range(func(key string, ks *keyState) bool {
		d := keyDump{Last: ks.last, Count: ks.count, Updated: ks.updated}
		if ks.rolling != nil {
			mean := metrics.Number(ks.rolling.Mean())
			d.RollingAvg = &mean
		}
		out.Set(key, d)
		return true
	})
	return json.Marshal(out)
}

// CalculateStats computes min, max, avg and count for a slice of values
func CalculateStats(values []float64) (min, max, avg float64, count int) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}

	min, max = values[0], values[0]
	var sum float64

	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}

	return min, max, sum / float64(len(values)), len(values)
}
