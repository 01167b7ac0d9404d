package profiler

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances by step on every reading.
func fakeClock(step time.Duration) func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

// TestStartOperation verifies timings are aggregated per operation name.
//
// @example
// go test -v -run TestStartOperation
func TestStartOperation(t *testing.T) {
	p := New()
	p.now = fakeClock(10 * time.Millisecond)

	p.StartOperation("detect")()
	p.StartOperation("detect")()
	p.RecordOperation("detect", 40*time.Millisecond)

	op, ok := p.Operation("detect")
	require.True(t, ok)
	assert.Equal(t, int64(3), op.Count)
	assert.Equal(t, 10*time.Millisecond, op.MinTime)
	assert.Equal(t, 40*time.Millisecond, op.MaxTime)
	assert.Equal(t, 20*time.Millisecond, op.Avg())

	_, ok = p.Operation("tabulate")
	assert.False(t, ok)
}

func TestRecordMetric(t *testing.T) {
	p := New()
	for _, v := range []float64{3, 1, 8} {
		p.RecordMetric("detections", v)
	}

	m, ok := p.Metric("detections")
	require.True(t, ok)
	assert.Equal(t, int64(3), m.Count)
	assert.Equal(t, 1.0, m.Min)
	assert.Equal(t, 8.0, m.Max)
	assert.InDelta(t, 4.0, m.Avg(), 1e-9)
}

func TestNilProfiler(t *testing.T) {
	var p *Profiler
	assert.NotPanics(t, func() {
		p.StartOperation("detect")()
		p.RecordMetric("detections", 1)
	})
}

func TestReport(t *testing.T) {
	p := New()
	p.RecordOperation("tabulate", time.Millisecond)
	p.RecordOperation("detect", 2*time.Millisecond)
	p.RecordMetric("detections", 5)

	var buf bytes.Buffer
	p.Report(&buf)
	out := buf.String()

	assert.Contains(t, out, "MEMORY USAGE:")
	assert.Contains(t, out, "detections: avg=5.00, min=5.00, max=5.00, samples=1")
	assert.Contains(t, out, "detect: avg=2ms, min=2ms, max=2ms, count=1")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("  detect:")), bytes.Index(buf.Bytes(), []byte("  tabulate:")))
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}
