package engine

import (
	"math"
	"sync"
)

// histogram aggregates recorded values without storing samples
type histogram struct {
	count uint64
	sum   float64
	min   float64
	max   float64
}

// HistogramStat is the read-only view of one histogram
type HistogramStat struct {
	Count uint64  `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// MetricsSnapshot is an immutable copy-on-read view of the collector.
// Mutating a snapshot never touches live counter state.
type MetricsSnapshot struct {
	Counters   map[string]float64       `json:"counters"`
	Gauges     map[string]float64       `json:"gauges"`
	Histograms map[string]HistogramStat `json:"histograms"`
}

// Collector holds process-wide counters, gauges, and histograms.
// It is the only component that owns counter state: engine-level numbers
// like requestsTotal are derived by the Engine calling in here, never
// stored ad hoc on the Engine itself.
type Collector struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string]*histogram
}

// NewCollector creates an empty metrics collector
func NewCollector() *Collector {
	return &Collector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*histogram),
	}
}

// IncrementCounter adds delta to the named counter
func (c *Collector) IncrementCounter(name string, delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += delta
}

// SetGauge sets the named gauge to value
func (c *Collector) SetGauge(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[name] = value
}

// RecordHistogram folds value into the named histogram
func (c *Collector) RecordHistogram(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.histograms[name]
	if !ok {
		h = &histogram{min: math.Inf(1), max: math.Inf(-1)}
		c.histograms[name] = h
	}
	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// Counter returns the current value of a counter (0 if absent)
func (c *Collector) Counter(name string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// Histogram returns the current stat for one histogram
func (c *Collector) Histogram(name string) HistogramStat {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h, ok := c.histograms[name]
	if !ok {
		return HistogramStat{}
	}
	return h.stat()
}

func (h *histogram) stat() HistogramStat {
	s := HistogramStat{Count: h.count, Sum: h.sum, Min: h.min, Max: h.max}
	if h.count > 0 {
		s.Mean = h.sum / float64(h.count)
	} else {
		s.Min, s.Max = 0, 0
	}
	return s
}

// Snapshot returns an immutable point-in-time copy of all metrics
func (c *Collector) Snapshot() MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := MetricsSnapshot{
		Counters:   make(map[string]float64, len(c.counters)),
		Gauges:     make(map[string]float64, len(c.gauges)),
		Histograms: make(map[string]HistogramStat, len(c.histograms)),
	}
	for k, v := range c.counters {
		snap.Counters[k] = v
	}
	for k, v := range c.gauges {
		snap.Gauges[k] = v
	}
	for k, h := range c.histograms {
		snap.Histograms[k] = h.stat()
	}
	return snap
}
