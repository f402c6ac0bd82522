package core

import (
	"sync"
	"time"
)

// maxLatencySamples bounds the rolling processing-time window.
const maxLatencySamples = 1000

// Statistics is a snapshot of the orchestrator's running counters.
type Statistics struct {
	TotalProcessed    int64
	ActionCounts      map[Action]int64
	AverageProcessing time.Duration
	SampleCount       int
}

// statsCollector maintains best-effort running statistics. It is
// never allowed to block the decision path: updates take a short
// mutex and do no I/O.
type statsCollector struct {
	mu       sync.Mutex
	total    int64
	byAction map[Action]int64
	samples  []time.Duration
	next     int
	filled   bool
}

func newStatsCollector() *statsCollector {
	return &statsCollector{
		byAction: make(map[Action]int64),
		samples:  make([]time.Duration, 0, maxLatencySamples),
	}
}

// Record adds one decision outcome and its processing time. Samples
// beyond the window overwrite the oldest entry.
func (s *statsCollector) Record(action Action, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.byAction[action]++

	if len(s.samples) < maxLatencySamples {
		s.samples = append(s.samples, elapsed)
		return
	}
	s.samples[s.next] = elapsed
	s.next = (s.next + 1) % maxLatencySamples
	s.filled = true
}

// Snapshot returns a copy of the current statistics.
func (s *statsCollector) Snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[Action]int64, len(s.byAction))
	for action, n := range s.byAction {
		counts[action] = n
	}

	var sum time.Duration
	for _, sample := range s.samples {
		sum += sample
	}
	avg := time.Duration(0)
	if len(s.samples) > 0 {
		avg = sum / time.Duration(len(s.samples))
	}

	return Statistics{
		TotalProcessed:    s.total,
		ActionCounts:      counts,
		AverageProcessing: avg,
		SampleCount:       len(s.samples),
	}
}
