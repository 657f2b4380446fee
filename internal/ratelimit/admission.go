package ratelimit

import (
	"context"
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/pkg/clock"
)

// Usage is what a campaign already sent in the current window.
type Usage struct {
	SentToday    int64 `json:"sent_today"`
	SentThisHour int64 `json:"sent_this_hour"`
	Remaining    int   `json:"remaining"`
}

// Admission enforces per-campaign caps independently of the global Counter.
// Counts always come from the store so several scheduler replicas agree.
type Admission struct {
	source       CountSource
	clock        clock.Clock
	loc          *time.Location
	batchCeiling int
}

func NewAdmission(source CountSource, clk clock.Clock, loc *time.Location, batchCeiling int) *Admission {
	if clk == nil {
		clk = clock.System{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Admission{
		source:       source,
		clock:        clk,
		loc:          loc,
		batchCeiling: batchCeiling,
	}
}

// Admit returns min(daily cap - sent today, hourly cap - sent this hour,
// batch ceiling), never below zero.
func (a *Admission) Admit(ctx context.Context, c *model.Campaign) (int, error) {
	u, err := a.Usage(ctx, c)
	if err != nil {
		return 0, err
	}
	return u.Remaining, nil
}

func (a *Admission) Usage(ctx context.Context, c *model.Campaign) (Usage, error) {
	w := WindowAt(a.clock.Now(), a.loc)
	id := c.ID

	today, err := a.source.CountByStatusSince(ctx, model.CountScope{CampaignID: &id}, w.DayStart)
	if err != nil {
		return Usage{}, err
	}
	hour, err := a.source.CountByStatusSince(ctx, model.CountScope{CampaignID: &id}, w.HourStart)
	if err != nil {
		return Usage{}, err
	}

	remaining := min(int64(c.DailyLimit)-today, int64(c.HourlyLimit)-hour)
	if a.batchCeiling > 0 {
		remaining = min(remaining, int64(a.batchCeiling))
	}
	return Usage{
		SentToday:    today,
		SentThisHour: hour,
		Remaining:    int(max(remaining, 0)),
	}, nil
}
