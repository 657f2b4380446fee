package processor

import (
	"sync/atomic"
	"time"
)

// ServiceMetrics are in-process totals of provider calls since start, kept
// next to the prometheus counters so /scheduler/status can show them
// without a scrape.
type ServiceMetrics struct {
	totalSent       int64
	totalFailed     int64
	totalDurationNs int64
	startedNs       int64
}

func NewServiceMetrics() *ServiceMetrics {
	return &ServiceMetrics{
		startedNs: time.Now().UnixNano(),
	}
}

func (m *ServiceMetrics) RecordSuccess(duration time.Duration) {
	atomic.AddInt64(&m.totalSent, 1)
	atomic.AddInt64(&m.totalDurationNs, int64(duration))
}

func (m *ServiceMetrics) RecordFailure(duration time.Duration) {
	atomic.AddInt64(&m.totalFailed, 1)
	atomic.AddInt64(&m.totalDurationNs, int64(duration))
}

type MetricsSnapshot struct {
	TotalSent     int64   `json:"total_sent"`
	TotalFailed   int64   `json:"total_failed"`
	RatePerMinute float64 `json:"rate_per_minute"`
	AvgDurationMs int64   `json:"avg_duration_ms"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (m *ServiceMetrics) Snapshot() MetricsSnapshot {
	sent := atomic.LoadInt64(&m.totalSent)
	failed := atomic.LoadInt64(&m.totalFailed)
	durationNs := atomic.LoadInt64(&m.totalDurationNs)
	elapsed := time.Since(time.Unix(0, atomic.LoadInt64(&m.startedNs)))

	s := MetricsSnapshot{
		TotalSent:     sent,
		TotalFailed:   failed,
		UptimeSeconds: elapsed.Seconds(),
	}
	if minutes := elapsed.Minutes(); minutes > 0 {
		s.RatePerMinute = float64(sent) / minutes
	}
	if calls := sent + failed; calls > 0 {
		s.AvgDurationMs = time.Duration(durationNs / calls).Milliseconds()
	}
	return s
}

func (m *ServiceMetrics) Reset() {
	atomic.StoreInt64(&m.totalSent, 0)
	atomic.StoreInt64(&m.totalFailed, 0)
	atomic.StoreInt64(&m.totalDurationNs, 0)
	atomic.StoreInt64(&m.startedNs, time.Now().UnixNano())
}
