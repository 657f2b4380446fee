package model

import "time"

// Settings are the persisted scheduler overrides; zero fields keep the env value.
type Settings struct {
	GlobalHourlyLimit int           `json:"global_hourly_limit"`
	GlobalDailyLimit  int           `json:"global_daily_limit"`
	DispatchDelay     time.Duration `json:"dispatch_delay"`
	DispatchBatchSize int           `json:"dispatch_batch_size"`
	ReclaimTimeout    time.Duration `json:"reclaim_timeout"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Merge returns base with every non-zero field of s applied.
func (s *Settings) Merge(base Settings) Settings {
	if s == nil {
		return base
	}
	if s.GlobalHourlyLimit > 0 {
		base.GlobalHourlyLimit = s.GlobalHourlyLimit
	}
	if s.GlobalDailyLimit > 0 {
		base.GlobalDailyLimit = s.GlobalDailyLimit
	}
	if s.DispatchDelay > 0 {
		base.DispatchDelay = s.DispatchDelay
	}
	if s.DispatchBatchSize > 0 {
		base.DispatchBatchSize = s.DispatchBatchSize
	}
	if s.ReclaimTimeout > 0 {
		base.ReclaimTimeout = s.ReclaimTimeout
	}
	if !s.UpdatedAt.IsZero() {
		base.UpdatedAt = s.UpdatedAt
	}
	return base
}
