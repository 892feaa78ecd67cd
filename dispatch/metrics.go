package dispatch

import (
	"sync"
	"time"
)

// MetricsSnapshot is a point-in-time copy of dispatcher counters
type MetricsSnapshot struct {
	Processed       int64            `json:"processed"`
	Failed          int64            `json:"failed"`
	Retried         int64            `json:"retried"`
	DeadLettered    int64            `json:"dead_lettered"`
	ByType          map[string]int64 `json:"by_type"`
	AvgProcessingMs float64          `json:"avg_processing_ms"`
	LastReset       time.Time        `json:"last_reset"`
}

// Metrics tracks dispatcher throughput since the last hourly reset
type Metrics struct {
	mu           sync.Mutex
	processed    int64
	failed       int64
	retried      int64
	deadLettered int64
	byType       map[string]int64
	totalMs      int64
	samples      int64
	lastReset    time.Time
}

// NewMetrics creates zeroed metrics
func NewMetrics() *Metrics {
	return &Metrics{
		byType:    make(map[string]int64),
		lastReset: time.Now().UTC(),
	}
}

// RecordSuccess counts one processed event and its latency
func (m *Metrics) RecordSuccess(eventType string, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	m.byType[eventType]++
	m.totalMs += took.Milliseconds()
	m.samples++
}

// RecordFailure counts one permanently failed event
func (m *Metrics) RecordFailure(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
	m.byType[eventType]++
}

// RecordRetry counts one retry attempt
func (m *Metrics) RecordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried++
}

// RecordDeadLetter counts one dead-lettered event
func (m *Metrics) RecordDeadLetter() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLettered++
}

// Snapshot copies the current counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	byType := make(map[string]int64, len(m.byType))
	for t, c := range m.byType {
		byType[t] = c
	}

	snapshot := MetricsSnapshot{
		Processed:    m.processed,
		Failed:       m.failed,
		Retried:      m.retried,
		DeadLettered: m.deadLettered,
		ByType:       byType,
		LastReset:    m.lastReset,
	}
	if m.samples > 0 {
		snapshot.AvgProcessingMs = float64(m.totalMs) / float64(m.samples)
	}
	return snapshot
}

// ResetHourly zeroes the counters. Scheduled hourly by the worker.
func (m *Metrics) ResetHourly() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = 0
	m.failed = 0
	m.retried = 0
	m.deadLettered = 0
	m.byType = make(map[string]int64)
	m.totalMs = 0
	m.samples = 0
	m.lastReset = time.Now().UTC()
}
