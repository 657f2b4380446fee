package processor

import (
	"context"
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/pkg/clock"
	"github.com/nimasrn/outreach-engine/pkg/logger"
	"github.com/nimasrn/outreach-engine/pkg/prom"
)

type StuckStore interface {
	ReclaimStuck(ctx context.Context, cutoff time.Time, reason string, at time.Time) (int64, error)
	CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type HealthConfig struct {
	ReclaimTimeout        time.Duration
	StalePendingThreshold time.Duration
}

// HealthMonitor fails messages left in sending by a crashed or hung
// provider call and reports pending backlog older than the stale threshold.
type HealthMonitor struct {
	messages StuckStore
	settings SettingsSource
	clock    clock.Clock
	config   HealthConfig
}

func NewHealthMonitor(messages StuckStore, settings SettingsSource, clk clock.Clock, config HealthConfig) *HealthMonitor {
	if clk == nil {
		clk = clock.System{}
	}
	return &HealthMonitor{
		messages: messages,
		settings: settings,
		clock:    clk,
		config:   config,
	}
}

// Run is one health tick using the persisted reclaim timeout when set.
func (h *HealthMonitor) Run(ctx context.Context) (model.HealthReport, error) {
	timeout := h.config.ReclaimTimeout
	if h.settings != nil {
		s, err := h.settings.Get(ctx)
		if err != nil {
			return model.HealthReport{}, err
		}
		timeout = s.Merge(model.Settings{ReclaimTimeout: timeout}).ReclaimTimeout
	}

	var report model.HealthReport
	reclaimed, err := h.ReclaimStuck(ctx, timeout)
	if err != nil {
		return report, err
	}
	report.Reclaimed = reclaimed

	stale, err := h.StalePending(ctx)
	if err != nil {
		return report, err
	}
	report.StalePending = stale
	return report, nil
}

// ReclaimStuck moves every message sending for longer than timeout to
// failed with reason "delivery timeout".
func (h *HealthMonitor) ReclaimStuck(ctx context.Context, timeout time.Duration) (int64, error) {
	if timeout <= 0 {
		return 0, nil
	}
	now := h.clock.Now()
	n, err := h.messages.ReclaimStuck(ctx, now.Add(-timeout), model.ReasonDeliveryTimeout, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		prom.AddReclaimed(n)
		logger.Warn("reclaimed stuck messages", "count", n, "timeout", timeout)
	}
	return n, nil
}

// StalePending only reports; dispatch throughput is the fix, not a status change.
func (h *HealthMonitor) StalePending(ctx context.Context) (int64, error) {
	if h.config.StalePendingThreshold <= 0 {
		return 0, nil
	}
	n, err := h.messages.CountPendingOlderThan(ctx, h.clock.Now().Add(-h.config.StalePendingThreshold))
	if err != nil {
		return 0, err
	}
	prom.SetStalePending(n)
	if n > 0 {
		logger.Warn("pending messages older than threshold, dispatch is falling behind",
			"count", n,
			"threshold", h.config.StalePendingThreshold)
	}
	return n, nil
}
