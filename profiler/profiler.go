// Package profiler times pipeline stages and records per-run metrics.
package profiler

import (
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Profiler collects stage timings and custom metrics over one run.
//
// The pipeline processes one image at a time, so the profiler does no sampling of its own: it
// only aggregates what the stages report and reads memory statistics when a report is written.
type Profiler struct {
	mu        sync.Mutex
	startTime time.Time
	now       func() time.Time

	metrics    map[string]*MetricTracker
	operations map[string]*TimeTracker
}

// MetricTracker tracks statistics for a custom metric.
type MetricTracker struct {
	Name  string
	Sum   float64
	Min   float64
	Max   float64
	Count int64
}

// Avg returns the mean of the recorded values.
func (m *MetricTracker) Avg() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / float64(m.Count)
}

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	Name      string
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
	Count     int64
}

// Avg returns the mean duration of the operation.
func (t *TimeTracker) Avg() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.TotalTime / time.Duration(t.Count)
}

// New creates a profiler whose uptime starts now.
func New() *Profiler {
	p := &Profiler{
		now:        time.Now,
		metrics:    make(map[string]*MetricTracker),
		operations: make(map[string]*TimeTracker),
	}
	p.startTime = p.now()
	return p
}

// RecordMetric records a custom metric value.
//
// Arguments:
// - name: The name of the metric
// - value: The metric value to record
func (p *Profiler) RecordMetric(name string, value float64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.metrics[name]
	if !exists {
		tracker = &MetricTracker{Name: name, Min: value, Max: value}
		p.metrics[name] = tracker
	}

	tracker.Sum += value
	tracker.Count++
	if value < tracker.Min {
		tracker.Min = value
	}
	if value > tracker.Max {
		tracker.Max = value
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (p *Profiler) StartOperation(name string) func() {
	if p == nil {
		return func() {}
	}
	start := p.now()
	return func() {
		p.RecordOperation(name, p.now().Sub(start))
	}
}

// RecordOperation adds one completed operation of the given duration.
func (p *Profiler) RecordOperation(name string, duration time.Duration) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operations[name]
	if !exists {
		tracker = &TimeTracker{Name: name, MinTime: duration, MaxTime: duration}
		p.operations[name] = tracker
	}

	tracker.TotalTime += duration
	tracker.Count++
	if duration < tracker.MinTime {
		tracker.MinTime = duration
	}
	if duration > tracker.MaxTime {
		tracker.MaxTime = duration
	}
}

// Operation returns a copy of the statistics of an operation.
func (p *Profiler) Operation(name string) (TimeTracker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, ok := p.operations[name]
	if !ok {
		return TimeTracker{}, false
	}
	return *tracker, true
}

// Metric returns a copy of the statistics of a custom metric.
func (p *Profiler) Metric(name string) (MetricTracker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, ok := p.metrics[name]
	if !ok {
		return MetricTracker{}, false
	}
	return *tracker, true
}

// Report writes the run summary: uptime, memory, custom metrics and operation timings, each
// section sorted by name.
func (p *Profiler) Report(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fmt.Fprintf(w, "RUN PROFILE - uptime %v\n", p.now().Sub(p.startTime).Truncate(time.Millisecond))

	fmt.Fprintf(w, "\nMEMORY USAGE:\n")
	fmt.Fprintf(w, "  Alloc: %s\n", formatBytes(mem.Alloc))
	fmt.Fprintf(w, "  Total Alloc: %s\n", formatBytes(mem.TotalAlloc))
	fmt.Fprintf(w, "  Sys: %s\n", formatBytes(mem.Sys))
	fmt.Fprintf(w, "  GC Cycles: %d\n", mem.NumGC)

	if len(p.metrics) > 0 {
		fmt.Fprintf(w, "\nCUSTOM METRICS:\n")
		for _, name := range sortedKeys(p.metrics) {
			m := p.metrics[name]
			fmt.Fprintf(w, "  %s: avg=%.2f, min=%.2f, max=%.2f, samples=%d\n",
				name, m.Avg(), m.Min, m.Max, m.Count)
		}
	}

	if len(p.operations) > 0 {
		fmt.Fprintf(w, "\nOPERATION TIMINGS:\n")
		for _, name := range sortedKeys(p.operations) {
			o := p.operations[name]
			fmt.Fprintf(w, "  %s: avg=%v, min=%v, max=%v, count=%d\n",
				name, o.Avg().Truncate(time.Microsecond),
				o.MinTime.Truncate(time.Microsecond),
				o.MaxTime.Truncate(time.Microsecond),
				o.Count)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
