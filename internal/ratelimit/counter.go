package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/pkg/clock"
	"github.com/nimasrn/outreach-engine/pkg/logger"
	"github.com/nimasrn/outreach-engine/pkg/prom"
)

// CountSource is the authoritative store of sent messages.
type CountSource interface {
	CountByStatusSince(ctx context.Context, scope model.CountScope, since time.Time) (int64, error)
}

// Mirror receives a copy of the counters for ops visibility; it is never read back.
type Mirror interface {
	HSetBatch(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error
}

const mirrorKey = "ratelimit:global"

type Limits struct {
	Hourly int
	Daily  int
}

type Snapshot struct {
	Hourly      int64     `json:"hourly"`
	Daily       int64     `json:"daily"`
	Reserved    int64     `json:"reserved"`
	HourlyLimit int       `json:"hourly_limit"`
	DailyLimit  int       `json:"daily_limit"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
	Remaining   int       `json:"remaining"`
}

// Counter caches how many messages went out in the current hour and day
// against the global ceilings. The store stays the source of truth: the
// counts are re-derived from it at process start and whenever an hour or
// day boundary is crossed.
type Counter struct {
	mu       sync.Mutex
	source   CountSource
	clock    clock.Clock
	loc      *time.Location
	limits   Limits
	mirror   Mirror
	hourly   int64
	daily    int64
	reserved int64
	// commits counts every Commit; Reconcile uses it to keep sends that
	// land while the store is being read.
	commits int64
	window  Window
}

func NewCounter(source CountSource, clk clock.Clock, loc *time.Location, limits Limits) *Counter {
	if clk == nil {
		clk = clock.System{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Counter{
		source: source,
		clock:  clk,
		loc:    loc,
		limits: limits,
	}
}

// WithMirror copies every reconciled or flushed snapshot into a redis hash.
func (c *Counter) WithMirror(m Mirror) *Counter {
	c.mirror = m
	return c
}

func (c *Counter) SetLimits(l Limits) {
	c.mu.Lock()
	c.limits = l
	c.mu.Unlock()
}

// Reconcile replaces the cached counts with store derived ones for the
// window containing now. Outstanding reservations are kept. Commits made
// while the store is read are added on top; one whose row the read already
// saw is counted twice until the next reconcile, which only errs low.
func (c *Counter) Reconcile(ctx context.Context) error {
	w := WindowAt(c.clock.Now(), c.loc)

	c.mu.Lock()
	seq := c.commits
	c.mu.Unlock()

	hourly, err := c.source.CountByStatusSince(ctx, model.CountScope{}, w.HourStart)
	if err != nil {
		return err
	}
	daily, err := c.source.CountByStatusSince(ctx, model.CountScope{}, w.DayStart)
	if err != nil {
		return err
	}

	c.mu.Lock()
	late := c.commits - seq
	hourly += late
	daily += late
	c.hourly = hourly
	c.daily = daily
	c.window = w
	c.mu.Unlock()

	logger.Debug("rate counter reconciled", "hourly", hourly, "daily", daily, "hour_start", w.HourStart)
	c.Flush(ctx)
	return nil
}

// Rollover reconciles when now has left the cached window. It reports
// whether a boundary was crossed.
func (c *Counter) Rollover(ctx context.Context) (bool, error) {
	w := WindowAt(c.clock.Now(), c.loc)

	c.mu.Lock()
	crossed := !w.HourStart.Equal(c.window.HourStart)
	dayCrossed := !w.DayStart.Equal(c.window.DayStart)
	c.mu.Unlock()

	if !crossed {
		return false, nil
	}
	boundary := BoundaryHour
	if dayCrossed {
		boundary = BoundaryDay
	}
	return true, c.Reset(ctx, boundary)
}

type Boundary string

const (
	BoundaryHour Boundary = "hour"
	BoundaryDay  Boundary = "day"
)

// Reset zeroes the counts of the given window, and the hourly one with a
// day reset, then reconciles from the store.
func (c *Counter) Reset(ctx context.Context, boundary Boundary) error {
	c.mu.Lock()
	c.hourly = 0
	if boundary == BoundaryDay {
		c.daily = 0
	}
	c.mu.Unlock()

	logger.Info("rate counter reset", "boundary", string(boundary))
	return c.Reconcile(ctx)
}

// Reserve grants up to n sends within both ceilings, counting sends
// already reserved but not yet committed.
func (c *Counter) Reserve(n int) int {
	if n <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	granted := min(n, c.remainingLocked())
	if granted < 0 {
		granted = 0
	}
	c.reserved += int64(granted)
	return granted
}

// Commit turns n reserved sends into sent ones.
func (c *Counter) Commit(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.hourly += int64(n)
	c.daily += int64(n)
	c.commits += int64(n)
	c.reserved -= int64(n)
	if c.reserved < 0 {
		c.reserved = 0
	}
	c.mu.Unlock()
}

// Release returns n unused reservations.
func (c *Counter) Release(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.reserved -= int64(n)
	if c.reserved < 0 {
		c.reserved = 0
	}
	c.mu.Unlock()
}

func (c *Counter) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return max(c.remainingLocked(), 0)
}

func (c *Counter) remainingLocked() int {
	hourly := int64(c.limits.Hourly) - c.hourly - c.reserved
	daily := int64(c.limits.Daily) - c.daily - c.reserved
	return int(min(hourly, daily))
}

func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Hourly:      c.hourly,
		Daily:       c.daily,
		Reserved:    c.reserved,
		HourlyLimit: c.limits.Hourly,
		DailyLimit:  c.limits.Daily,
		HourStart:   c.window.HourStart,
		DayStart:    c.window.DayStart,
		Remaining:   max(c.remainingLocked(), 0),
	}
}

// Flush publishes the current counts to prometheus and the mirror.
func (c *Counter) Flush(ctx context.Context) {
	s := c.Snapshot()
	prom.SetRateLimitUsage("hourly", s.Hourly)
	prom.SetRateLimitUsage("daily", s.Daily)

	if c.mirror == nil {
		return
	}
	err := c.mirror.HSetBatch(ctx, mirrorKey, map[string]interface{}{
		"hourly":       s.Hourly,
		"daily":        s.Daily,
		"hourly_limit": s.HourlyLimit,
		"daily_limit":  s.DailyLimit,
		"hour_start":   s.HourStart.Format(time.RFC3339),
	}, 48*time.Hour)
	if err != nil {
		logger.Warn("failed to mirror rate counter", "error", err)
	}
}
