// Package hooks provides production-ready Logger and MetricsCollector
// implementations.
package hooks

import (
	"log/slog"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/Skryldev/image-loader/core"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

func (s *SlogLogger) Debug(msg string, fields ...interface{}) { s.log.Debug(msg, fields...) }
func (s *SlogLogger) Info(msg string, fields ...interface{})  { s.log.Info(msg, fields...) }
func (s *SlogLogger) Warn(msg string, fields ...interface{})  { s.log.Warn(msg, fields...) }
func (s *SlogLogger) Error(msg string, fields ...interface{}) { s.log.Error(msg, fields...) }

// ── Sketch-backed metrics collector ───────────────────────────────────────────

// relativeAccuracy bounds the quantile error of the latency sketches.
const relativeAccuracy = 0.01

// SketchMetrics accumulates per-operation latency distributions in DDSketch
// and hit/miss/error counters.  Safe for concurrent use.
type SketchMetrics struct {
	mu sync.RWMutex

	latencies map[string]*ddsketch.DDSketch
	hits      map[string]int64
	misses    map[string]int64
	errors    map[string]int64
}

var _ core.MetricsCollector = (*SketchMetrics)(nil)

// NewSketchMetrics creates an empty metrics store.
func NewSketchMetrics() *SketchMetrics {
	return &SketchMetrics{
		latencies: make(map[string]*ddsketch.DDSketch),
		hits:      make(map[string]int64),
		misses:    make(map[string]int64),
		errors:    make(map[string]int64),
	}
}

func newSketch() *ddsketch.DDSketch {
	s, err := ddsketch.LogUnboundedDenseDDSketch(relativeAccuracy)
	if err != nil {
		s, _ = ddsketch.NewDefaultDDSketch(relativeAccuracy)
	}
	return s
}

func (m *SketchMetrics) RecordLatency(op string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.latencies[op]
	if !ok {
		s = newSketch()
		m.latencies[op] = s
	}
	_ = s.Add(d.Seconds())
}

func (m *SketchMetrics) RecordHit(tier string) {
	m.mu.Lock()
	m.hits[tier]++
	m.mu.Unlock()
}

func (m *SketchMetrics) RecordMiss(tier string) {
	m.mu.Lock()
	m.misses[tier]++
	m.mu.Unlock()
}

func (m *SketchMetrics) RecordError(category string) {
	m.mu.Lock()
	m.errors[category]++
	m.mu.Unlock()
}

// LatencyQuantile returns the latency quantile (0..1) for op, in seconds.
// Returns false when no observations exist for op.
func (m *SketchMetrics) LatencyQuantile(op string, q float64) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.latencies[op]
	if !ok || s.GetCount() == 0 {
		return 0, false
	}
	v, err := s.GetValueAtQuantile(q)
	if err != nil {
		return 0, false
	}
	return v, true
}

// TierStats reports the hit and miss counts for a cache tier.
func (m *SketchMetrics) TierStats(tier string) (hits, misses int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hits[tier], m.misses[tier]
}

// ErrorCount reports the recorded errors for a category.
func (m *SketchMetrics) ErrorCount(category string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errors[category]
}
