package validation

import (
	"sort"
	"sync"
	"time"
)

// LatencyStats keeps a bounded rolling window of validation latencies and
// derives percentile statistics from it. It is safe for concurrent use.
type LatencyStats struct {
	mu        sync.Mutex
	samples   []time.Duration
	next      int
	filled    bool
	cacheHits int64
	total     int64
}

// StatsSnapshot is a point-in-time percentile summary.
type StatsSnapshot struct {
	Count     int64         `json:"count"`
	CacheHits int64         `json:"cache_hits"`
	P50       time.Duration `json:"p50"`
	P95       time.Duration `json:"p95"`
	P99       time.Duration `json:"p99"`
}

// NewLatencyStats creates stats over a rolling window of the given size.
func NewLatencyStats(window int) *LatencyStats {
	if window <= 0 {
		window = 256
	}
	return &LatencyStats{samples: make([]time.Duration, window)}
}

// Record appends one observation to the rolling window.
func (s *LatencyStats) Record(latency time.Duration, cacheHit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples[s.next] = latency
	s.next++
	if s.next == len(s.samples) {
		s.next = 0
		s.filled = true
	}
	s.total++
	if cacheHit {
		s.cacheHits++
	}
}

// Snapshot computes percentiles over the current window.
func (s *LatencyStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	n := s.next
	if s.filled {
		n = len(s.samples)
	}
	window := make([]time.Duration, n)
	copy(window, s.samples[:n])
	snap := StatsSnapshot{Count: s.total, CacheHits: s.cacheHits}
	s.mu.Unlock()

	if n == 0 {
		return snap
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	snap.P50 = window[percentileIndex(n, 50)]
	snap.P95 = window[percentileIndex(n, 95)]
	snap.P99 = window[percentileIndex(n, 99)]
	return snap
}

func percentileIndex(n, p int) int {
	idx := n*p/100 - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}
