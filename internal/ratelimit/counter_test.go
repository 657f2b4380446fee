package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/pkg/clock"
	"github.com/nimasrn/outreach-engine/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sentLog answers CountByStatusSince from an in-memory list of send times.
type sentLog struct {
	mu    sync.Mutex
	sends []sentAt
	err   error
	// between runs once after the next query, outside the lock
	between func()
}

type sentAt struct {
	campaignID int64
	at         time.Time
}

func (s *sentLog) add(campaignID int64, at time.Time) {
	s.mu.Lock()
	s.sends = append(s.sends, sentAt{campaignID, at})
	s.mu.Unlock()
}

func (s *sentLog) CountByStatusSince(_ context.Context, scope model.CountScope, since time.Time) (int64, error) {
	n, err := s.count(scope, since)
	s.mu.Lock()
	hook := s.between
	s.between = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return n, err
}

func (s *sentLog) count(scope model.CountScope, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	var n int64
	for _, x := range s.sends {
		if scope.CampaignID != nil && *scope.CampaignID != x.campaignID {
			continue
		}
		if !x.at.Before(since) {
			n++
		}
	}
	return n, nil
}

var start = time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)

func TestCounter_ReconcileAtStart(t *testing.T) {
	log := &sentLog{}
	log.add(1, start.Add(-2*time.Hour)) // earlier today
	log.add(1, start.Add(-10*time.Minute))
	log.add(2, start.Add(-20*time.Minute))
	log.add(2, start.Add(-26*time.Hour)) // yesterday

	c := NewCounter(log, clock.NewFake(start), time.UTC, Limits{Hourly: 10, Daily: 100})
	require.NoError(t, c.Reconcile(context.Background()))

	s := c.Snapshot()
	assert.Equal(t, int64(2), s.Hourly)
	assert.Equal(t, int64(3), s.Daily)
	assert.Equal(t, 8, s.Remaining)
	assert.Equal(t, time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC), s.HourStart)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), s.DayStart)
}

func TestCounter_ReserveCommitRelease(t *testing.T) {
	c := NewCounter(&sentLog{}, clock.NewFake(start), time.UTC, Limits{Hourly: 5, Daily: 100})
	require.NoError(t, c.Reconcile(context.Background()))

	granted := c.Reserve(3)
	assert.Equal(t, 3, granted)
	assert.Equal(t, 2, c.Remaining())

	// reservations count against the ceiling until released
	assert.Equal(t, 2, c.Reserve(10))
	assert.Equal(t, 0, c.Reserve(1))

	c.Commit(2)
	c.Release(3)
	s := c.Snapshot()
	assert.Equal(t, int64(2), s.Hourly)
	assert.Equal(t, int64(0), s.Reserved)
	assert.Equal(t, 3, c.Remaining())

	assert.Equal(t, 0, c.Reserve(0))
	assert.Equal(t, 0, c.Reserve(-1))
}

func TestCounter_DailyCeiling(t *testing.T) {
	log := &sentLog{}
	for i := 0; i < 9; i++ {
		log.add(1, start.Add(-3*time.Hour))
	}
	c := NewCounter(log, clock.NewFake(start), time.UTC, Limits{Hourly: 50, Daily: 10})
	require.NoError(t, c.Reconcile(context.Background()))

	assert.Equal(t, 1, c.Reserve(5))
}

func TestCounter_RolloverReconcilesFromStore(t *testing.T) {
	log := &sentLog{}
	clk := clock.NewFake(start)
	c := NewCounter(log, clk, time.UTC, Limits{Hourly: 5, Daily: 100})
	ctx := context.Background()
	require.NoError(t, c.Reconcile(ctx))

	for i := 0; i < 5; i++ {
		granted := c.Reserve(1)
		require.Equal(t, 1, granted)
		log.add(1, clk.Now())
		c.Commit(1)
	}
	assert.Equal(t, 0, c.Remaining())

	crossed, err := c.Rollover(ctx)
	require.NoError(t, err)
	assert.False(t, crossed)

	clk.Advance(45 * time.Minute) // 11:15
	crossed, err = c.Rollover(ctx)
	require.NoError(t, err)
	assert.True(t, crossed)
	assert.Equal(t, int64(0), c.Snapshot().Hourly)
	assert.Equal(t, int64(5), c.Snapshot().Daily)
	assert.Equal(t, 5, c.Remaining())

	t.Run("day boundary", func(t *testing.T) {
		clk.Set(time.Date(2026, 6, 2, 0, 5, 0, 0, time.UTC))
		crossed, err := c.Rollover(ctx)
		require.NoError(t, err)
		assert.True(t, crossed)
		assert.Equal(t, int64(0), c.Snapshot().Daily)
	})
}

func TestCounter_CacheLossIsRecoverable(t *testing.T) {
	log := &sentLog{}
	log.add(1, start.Add(-time.Minute))
	log.add(1, start.Add(-2*time.Minute))

	first := NewCounter(log, clock.NewFake(start), time.UTC, Limits{Hourly: 3, Daily: 100})
	require.NoError(t, first.Reconcile(context.Background()))

	// a fresh process derives the same state from the store
	second := NewCounter(log, clock.NewFake(start), time.UTC, Limits{Hourly: 3, Daily: 100})
	require.NoError(t, second.Reconcile(context.Background()))
	assert.Equal(t, first.Snapshot().Hourly, second.Snapshot().Hourly)
	assert.Equal(t, 1, second.Remaining())
}

func TestCounter_StoreError(t *testing.T) {
	log := &sentLog{err: errors.New("connection refused")}
	c := NewCounter(log, clock.NewFake(start), time.UTC, Limits{Hourly: 3, Daily: 3})
	assert.Error(t, c.Reconcile(context.Background()))
}

func TestCounter_Timezone(t *testing.T) {
	loc := time.FixedZone("UTC+5:30", 5*3600+1800)
	w := WindowAt(time.Date(2026, 6, 1, 20, 10, 0, 0, time.UTC), loc)
	// 20:10 UTC is 01:40 the next day local
	assert.Equal(t, time.Date(2026, 6, 1, 19, 30, 0, 0, time.UTC), w.HourStart)
	assert.Equal(t, time.Date(2026, 6, 1, 18, 30, 0, 0, time.UTC), w.DayStart)
}

func TestCounter_Mirror(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	adapter, err := redis.NewRedisAdapter(t.Name(), "test:", &goredis.UniversalOptions{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)

	log := &sentLog{}
	log.add(1, start.Add(-time.Minute))
	c := NewCounter(log, clock.NewFake(start), time.UTC, Limits{Hourly: 3, Daily: 10}).WithMirror(adapter)
	require.NoError(t, c.Reconcile(context.Background()))

	assert.Equal(t, "1", mr.HGet("test:"+mirrorKey, "hourly"))
	assert.Equal(t, "10", mr.HGet("test:"+mirrorKey, "daily_limit"))
}

func TestCounter_ReconcileKeepsCommitsMadeDuringRead(t *testing.T) {
	log := &sentLog{}
	for i := 0; i < 3; i++ {
		log.add(1, start.Add(-time.Duration(i+1)*time.Minute))
	}
	c := NewCounter(log, clock.NewFake(start), time.UTC, Limits{Hourly: 5, Daily: 100})
	require.NoError(t, c.Reconcile(context.Background()))

	require.Equal(t, 1, c.Reserve(1))
	log.add(1, start)
	c.Commit(1)
	require.Equal(t, 1, c.Reserve(1))

	// the second in-flight send is stored and committed after the hourly
	// query ran but before the counts are replaced
	log.mu.Lock()
	log.between = func() {
		log.add(1, start)
		c.Commit(1)
	}
	log.mu.Unlock()
	require.NoError(t, c.Reconcile(context.Background()))

	s := c.Snapshot()
	assert.GreaterOrEqual(t, s.Hourly, int64(5))
	assert.Zero(t, s.Reserved)
	assert.Equal(t, 0, c.Remaining())
	assert.Equal(t, 0, c.Reserve(1))
}
