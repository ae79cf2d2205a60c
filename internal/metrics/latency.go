// Package metrics keeps in-process latency histograms for report builds and
// HTTP requests, exposed through /api/stats.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Histogram bounds in microseconds: 1µs up to 60s, 3 significant figures.
const (
	minTrackable = 1
	maxTrackable = int64(60 * time.Second / time.Microsecond)
	sigFigures   = 3
)

// LatencyRecorder accumulates durations into an HDR histogram.
type LatencyRecorder struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

func NewLatencyRecorder() *LatencyRecorder {
	return &LatencyRecorder{hist: hdrhistogram.New(minTrackable, maxTrackable, sigFigures)}
}

// Record adds one observation. Values outside the histogram range are clamped.
func (r *LatencyRecorder) Record(d time.Duration) {
	us := d.Microseconds()
	if us < minTrackable {
		us = minTrackable
	}
	if us > maxTrackable {
		us = maxTrackable
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.hist.RecordValue(us)
}

// Since records the time elapsed from start.
func (r *LatencyRecorder) Since(start time.Time) {
	r.Record(time.Since(start))
}

// Snapshot summarizes the recorded latencies.
type Snapshot struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean_ns"`
	P50   time.Duration `json:"p50_ns"`
	P95   time.Duration `json:"p95_ns"`
	P99   time.Duration `json:"p99_ns"`
	Max   time.Duration `json:"max_ns"`
}

func (r *LatencyRecorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hist.TotalCount() == 0 {
		return Snapshot{}
	}
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return Snapshot{
		Count: r.hist.TotalCount(),
		Mean:  time.Duration(r.hist.Mean() * float64(time.Microsecond)),
		P50:   us(r.hist.ValueAtQuantile(50)),
		P95:   us(r.hist.ValueAtQuantile(95)),
		P99:   us(r.hist.ValueAtQuantile(99)),
		Max:   us(r.hist.Max()),
	}
}

func (r *LatencyRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hist.Reset()
}

// Registry hands out one recorder per name.
type Registry struct {
	mu        sync.Mutex
	recorders map[string]*LatencyRecorder
}

func NewRegistry() *Registry {
	return &Registry{recorders: make(map[string]*LatencyRecorder)}
}

// Recorder returns the recorder for name, creating it on first use.
func (g *Registry) Recorder(name string) *LatencyRecorder {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.recorders[name]
	if !ok {
		r = NewLatencyRecorder()
		g.recorders[name] = r
	}
	return r
}

// Snapshot returns a summary for every recorder that has observations.
func (g *Registry) Snapshot() map[string]Snapshot {
	g.mu.Lock()
	names := make([]string, 0, len(g.recorders))
	for name := range g.recorders {
		names = append(names, name)
	}
	g.mu.Unlock()
	sort.Strings(names)

	out := make(map[string]Snapshot, len(names))
	for _, name := range names {
		if s := g.Recorder(name).Snapshot(); s.Count > 0 {
			out[name] = s
		}
	}
	return out
}
