package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/thisdougb/runlog/internal/metrics"
)

// Prometheus exposes the latest value of every key as a gauge. Labels are
// exported as an info style gauge set to 1.
type Prometheus struct {
	values  *prometheus.GaugeVec
	labels  *prometheus.GaugeVec
	steps   *prometheus.GaugeVec
	batches *prometheus.CounterVec

	mu        sync.Mutex
	lastLabel map[[2]string]string
}

// NewPrometheus registers the runlog collectors with reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "runlog_metric",
			Help: "Latest logged value per compound key",
		}, []string{"run", "key"}),
		labels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "runlog_label",
			Help: "Latest logged label per compound key",
		}, []string{"run", "key", "value"}),
		steps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "runlog_step",
			Help: "Last step logged by a run",
		}, []string{"run"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runlog_batches_total",
			Help: "Log calls received per run",
		}, []string{"run"}),
		lastLabel: make(map[[2]string]string),
	}

	for _, c := range []prometheus.Collector{p.values, p.labels, p.steps, p.batches} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return p, nil
}

func (p *Prometheus) Write(_ context.Context, b Batch) error {
	p.batches.WithLabelValues(b.RunID).Inc()
	p.steps.WithLabelValues(b.RunID).Set(float64(b.Step))
	if b.Values == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	b.Values.Range(func(key string, v metrics.Value) bool {
		// one series per key, a key that changes type or label drops the old one
		id := [2]string{b.RunID, key}
		prev, labelled := p.lastLabel[id]
		if !v.IsText {
			if labelled {
				p.labels.DeleteLabelValues(b.RunID, key, prev)
				delete(p.lastLabel, id)
			}
			p.values.WithLabelValues(b.RunID, key).Set(v.Number)
			return true
		}

		if labelled && prev != v.Text {
			p.labels.DeleteLabelValues(b.RunID, key, prev)
		} else if !labelled {
			p.values.DeleteLabelValues(b.RunID, key)
		}
		p.lastLabel[id] = v.Text
		p.labels.WithLabelValues(b.RunID, key, v.Text).Set(1)
		return true
	})
	return nil
}

// Forget removes every series of a run.
func (p *Prometheus) Forget(runID string) {
	match := prometheus.Labels{"run": runID}
	p.values.DeletePartialMatch(match)
	p.labels.DeletePartialMatch(match)
	p.steps.DeletePartialMatch(match)
	p.batches.DeletePartialMatch(match)

	p.mu.Lock()
	for id := range p.lastLabel {
		if id[0] == runID {
			delete(p.lastLabel, id)
		}
	}
	p.mu.Unlock()
}

// Close keeps the series so a final scrape still sees them.
func (p *Prometheus) Close() error {
	return nil
}
