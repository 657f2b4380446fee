package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	gateway "github.com/nimasrn/outreach-engine/internal/gateways"
	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/internal/ratelimit"
	"github.com/nimasrn/outreach-engine/internal/repository"
	"github.com/nimasrn/outreach-engine/pkg/clock"
	"github.com/nimasrn/outreach-engine/pkg/logger"
	"github.com/nimasrn/outreach-engine/pkg/prom"
	"github.com/nimasrn/outreach-engine/pkg/worker"
)

type MessageStore interface {
	ListDue(ctx context.Context, f model.MessageFilter) ([]*model.Message, error)
	UpdateStatus(ctx context.Context, id int64, from []model.MessageStatus, upd model.StatusUpdate) error
}

type CampaignStore interface {
	GetMany(ctx context.Context, ids []int64) (map[int64]*model.Campaign, error)
	IncrementStats(ctx context.Context, id int64, sent, failed int) error
}

type OptOutStore interface {
	IsBlocked(ctx context.Context, recipientID int64, ch model.Channel, address string) (bool, error)
	Create(ctx context.Context, o *model.OptOut) (*model.OptOut, error)
}

// Transactor runs fn in one store transaction carried by ctx.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type CampaignGate interface {
	Admit(ctx context.Context, c *model.Campaign) (int, error)
}

type SettingsSource interface {
	Get(ctx context.Context) (*model.Settings, error)
}

type DispatcherConfig struct {
	// Defaults are used for every field the persisted settings leave at zero.
	Defaults    model.Settings
	Concurrency int
}

// maxSelectRounds bounds how often a batch re-queries after campaigns ran
// out of capacity mid-page.
const maxSelectRounds = 3

var sendingOnly = []model.MessageStatus{model.MessageStatusSending}
var pendingOnly = []model.MessageStatus{model.MessageStatusPending}

// Dispatcher moves pending messages to the providers. Guards and rate
// accounting run sequentially in selection order; only the provider calls
// fan out.
type Dispatcher struct {
	messages  MessageStore
	campaigns CampaignStore
	optOuts   OptOutStore
	gate      CampaignGate
	settings  SettingsSource
	sender    gateway.Sender
	counter   *ratelimit.Counter
	clock     clock.Clock
	config    DispatcherConfig
	metrics   *ServiceMetrics
	tx        Transactor
}

func NewDispatcher(
	messages MessageStore,
	campaigns CampaignStore,
	optOuts OptOutStore,
	gate CampaignGate,
	settings SettingsSource,
	sender gateway.Sender,
	counter *ratelimit.Counter,
	clk clock.Clock,
	config DispatcherConfig,
) *Dispatcher {
	if clk == nil {
		clk = clock.System{}
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &Dispatcher{
		messages:  messages,
		campaigns: campaigns,
		optOuts:   optOuts,
		gate:      gate,
		settings:  settings,
		sender:    sender,
		counter:   counter,
		clock:     clk,
		config:    config,
		metrics:   NewServiceMetrics(),
	}
}

// WithTransactor makes a hard failure's status change and opt-out commit together.
func (d *Dispatcher) WithTransactor(tx Transactor) *Dispatcher {
	d.tx = tx
	return d
}

func (d *Dispatcher) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if d.tx == nil {
		return fn(ctx)
	}
	return d.tx.WithinTransaction(ctx, fn)
}

func (d *Dispatcher) Metrics() *ServiceMetrics {
	return d.metrics
}

// Run is one dispatch tick: apply persisted settings, roll the counter
// over if a boundary passed, then dispatch min(global remaining, batch size).
func (d *Dispatcher) Run(ctx context.Context) (model.DispatchReport, error) {
	s, err := d.effectiveSettings(ctx)
	if err != nil {
		return model.DispatchReport{}, err
	}
	d.counter.SetLimits(ratelimit.Limits{Hourly: s.GlobalHourlyLimit, Daily: s.GlobalDailyLimit})
	if _, err := d.counter.Rollover(ctx); err != nil {
		return model.DispatchReport{}, err
	}

	limit := min(d.counter.Remaining(), s.DispatchBatchSize)
	if limit <= 0 {
		logger.Info("global rate limit reached, dispatch deferred", "snapshot", d.counter.Snapshot())
		return model.DispatchReport{StartedAt: d.clock.Now()}, nil
	}
	return d.dispatch(ctx, limit, s.DispatchDelay)
}

// DispatchBatch sends up to limit pending messages using the configured delay.
func (d *Dispatcher) DispatchBatch(ctx context.Context, limit int) (model.DispatchReport, error) {
	s, err := d.effectiveSettings(ctx)
	if err != nil {
		return model.DispatchReport{}, err
	}
	return d.dispatch(ctx, limit, s.DispatchDelay)
}

func (d *Dispatcher) effectiveSettings(ctx context.Context) (model.Settings, error) {
	if d.settings == nil {
		return d.config.Defaults, nil
	}
	persisted, err := d.settings.Get(ctx)
	if err != nil {
		return model.Settings{}, err
	}
	return persisted.Merge(d.config.Defaults), nil
}

// batch is the per-tick state of the sequential guard pass.
type batch struct {
	campaigns map[int64]*model.Campaign
	budget    map[int64]int
	exhausted map[int64]bool
	claimed   []*model.Message
	seen      map[int64]bool
	report    model.DispatchReport
}

func (d *Dispatcher) dispatch(ctx context.Context, limit int, delay time.Duration) (model.DispatchReport, error) {
	b := &batch{
		campaigns: make(map[int64]*model.Campaign),
		budget:    make(map[int64]int),
		exhausted: make(map[int64]bool),
		seen:      make(map[int64]bool),
	}
	b.report.StartedAt = d.clock.Now()
	b.report.Limit = limit
	if limit <= 0 {
		return b.report, nil
	}

	for round := 0; round < maxSelectRounds && len(b.claimed) < limit; round++ {
		want := limit - len(b.claimed)
		due, err := d.messages.ListDue(ctx, model.MessageFilter{
			Statuses:           pendingOnly,
			ExcludeCampaignIDs: keys(b.exhausted),
			Limit:              want,
		})
		if err != nil {
			d.releaseClaimed(ctx, b)
			return b.report, err
		}
		if err := d.loadCampaigns(ctx, b, due); err != nil {
			d.releaseClaimed(ctx, b)
			return b.report, err
		}

		exhaustedBefore := len(b.exhausted)
		stop, err := d.guard(ctx, b, due, limit)
		if err != nil {
			d.releaseClaimed(ctx, b)
			return b.report, err
		}
		// Only a full page that lost campaigns to their caps can hide more work.
		if stop || len(due) < want || len(b.exhausted) == exhaustedBefore {
			break
		}
	}

	d.send(ctx, b, delay)
	d.counter.Flush(ctx)

	b.report.Duration = d.clock.Now().Sub(b.report.StartedAt)
	logger.Info("dispatch batch completed",
		"limit", limit,
		"selected", b.report.Selected,
		"sent", b.report.Sent,
		"failed", b.report.Failed,
		"bounced", b.report.Bounced,
		"opted_out", b.report.OptedOut,
		"cancelled", b.report.Cancelled,
		"deferred", b.report.Deferred,
		"skipped", b.report.Skipped)
	return b.report, nil
}

func (d *Dispatcher) loadCampaigns(ctx context.Context, b *batch, due []*model.Message) error {
	var missing []int64
	for _, m := range due {
		if m.CampaignID == nil {
			continue
		}
		if _, ok := b.campaigns[*m.CampaignID]; !ok {
			missing = append(missing, *m.CampaignID)
			b.campaigns[*m.CampaignID] = nil
		}
	}
	if len(missing) == 0 {
		return nil
	}
	found, err := d.campaigns.GetMany(ctx, missing)
	if err != nil {
		return err
	}
	for id, c := range found {
		b.campaigns[id] = c
	}
	return nil
}

// guard walks due in order and claims what may be sent. It reports stop
// when the global counter has no more room.
func (d *Dispatcher) guard(ctx context.Context, b *batch, due []*model.Message, limit int) (bool, error) {
	now := d.clock.Now()
	for _, msg := range due {
		if len(b.claimed) >= limit {
			return true, nil
		}
		if b.seen[msg.ID] {
			continue
		}
		b.seen[msg.ID] = true
		b.report.Selected++

		var campaign *model.Campaign
		if msg.CampaignID != nil {
			cid := *msg.CampaignID
			if b.exhausted[cid] {
				b.report.Deferred++
				continue
			}
			campaign = b.campaigns[cid]
			if reason := cancelReason(campaign, now); reason != "" {
				d.finish(ctx, msg, model.StatusUpdate{
					Status:        model.MessageStatusCancelled,
					FailureReason: reason,
				}, pendingOnly, &b.report.Cancelled)
				continue
			}
			// paused or not started yet: keep the step pending for later
			if !campaign.Active || !campaign.IsRunning(now) {
				b.exhausted[cid] = true
				b.report.Deferred++
				continue
			}
		}

		blocked, err := d.optOuts.IsBlocked(ctx, msg.RecipientID, msg.Channel, msg.Address)
		if err != nil {
			return false, err
		}
		if blocked {
			d.finish(ctx, msg, model.StatusUpdate{
				Status:        model.MessageStatusOptedOut,
				FailureReason: model.ReasonOptedOut,
			}, pendingOnly, &b.report.OptedOut)
			continue
		}

		if campaign != nil {
			left, ok := b.budget[campaign.ID]
			if !ok {
				left, err = d.gate.Admit(ctx, campaign)
				if err != nil {
					return false, err
				}
			}
			if left <= 0 {
				b.budget[campaign.ID] = 0
				b.exhausted[campaign.ID] = true
				b.report.Deferred++
				logger.Info("campaign capacity reached, messages deferred", "campaign_id", campaign.ID)
				continue
			}
			b.budget[campaign.ID] = left - 1
		}

		if d.counter.Reserve(1) == 0 {
			if campaign != nil {
				b.budget[campaign.ID]++
			}
			b.report.Deferred++
			return true, nil
		}

		err = d.messages.UpdateStatus(ctx, msg.ID, pendingOnly, model.StatusUpdate{
			Status: model.MessageStatusSending,
			At:     d.clock.Now(),
		})
		if err != nil {
			d.counter.Release(1)
			if campaign != nil {
				b.budget[campaign.ID]++
			}
			if errors.Is(err, repository.ErrStatusConflict) {
				b.report.Skipped++
				continue
			}
			return false, err
		}
		msg.Status = model.MessageStatusSending
		b.claimed = append(b.claimed, msg)
	}
	return false, nil
}

// cancelReason is set when a campaign can never send its pending messages.
func cancelReason(c *model.Campaign, now time.Time) string {
	switch {
	case c == nil:
		return model.ReasonCampaignMissing
	case c.EndDate != nil && now.After(*c.EndDate):
		return model.ReasonCampaignEnded
	}
	return ""
}

// finish applies a terminal transition decided by a guard. A lost race is
// not an error.
func (d *Dispatcher) finish(ctx context.Context, msg *model.Message, upd model.StatusUpdate, from []model.MessageStatus, counter *int) {
	upd.At = d.clock.Now()
	err := d.messages.UpdateStatus(ctx, msg.ID, from, upd)
	if err != nil {
		if !errors.Is(err, repository.ErrStatusConflict) {
			logger.Error("failed to update message status", "message_id", msg.ID, "status", upd.Status, "error", err)
		}
		return
	}
	*counter++
	prom.IncDispatchedMessage(string(msg.Channel), string(upd.Status))
}

// releaseClaimed hands already claimed messages back when the tick aborts
// before any provider call was made.
func (d *Dispatcher) releaseClaimed(ctx context.Context, b *batch) {
	for _, msg := range b.claimed {
		d.counter.Release(1)
		err := d.messages.UpdateStatus(ctx, msg.ID, sendingOnly, model.StatusUpdate{
			Status: model.MessageStatusPending,
			At:     d.clock.Now(),
		})
		if err != nil {
			logger.Warn("failed to release claimed message, health monitor will reclaim it", "message_id", msg.ID, "error", err)
		}
	}
	b.claimed = nil
}

func (d *Dispatcher) send(ctx context.Context, b *batch, delay time.Duration) {
	if len(b.claimed) == 0 {
		return
	}

	var mu sync.Mutex
	pool := worker.NewPool(d.config.Concurrency, delay, func(ctx context.Context, workerIndex int, job interface{}) {
		msg := job.(*model.Message)
		outcome := d.deliver(ctx, msg)

		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case model.MessageStatusSent, model.MessageStatusDelivered:
			b.report.Sent++
		case model.MessageStatusBounced:
			b.report.Bounced++
		case model.MessageStatusFailed:
			b.report.Failed++
		}
	})

	jobs := make([]interface{}, len(b.claimed))
	for i, m := range b.claimed {
		jobs[i] = m
	}
	started, err := pool.Run(ctx, jobs)
	if err != nil {
		// messages claimed but never started go back to pending
		b.claimed = b.claimed[started:]
		d.releaseClaimed(context.WithoutCancel(ctx), b)
		logger.Warn("dispatch interrupted", "started", started, "error", err)
	}
}

// deliver makes the single provider call for msg and records its outcome.
// Store failures after the call leave the message sending for the health
// monitor to reclaim.
func (d *Dispatcher) deliver(ctx context.Context, msg *model.Message) (status model.MessageStatus) {
	// the reservation taken by guard is settled exactly once
	settled := false
	defer func() {
		if rec := recover(); rec != nil {
			if !settled {
				d.counter.Release(1)
			}
			logger.Error("panic while delivering message, health monitor will reclaim it", "message_id", msg.ID, "panic", rec)
			status = ""
		}
	}()

	started := time.Now()
	receipt, err := d.sender.Send(ctx, msg)
	elapsed := time.Since(started)
	// the outcome must be written even when the tick is being cancelled
	writeCtx := context.WithoutCancel(ctx)

	if err != nil {
		d.metrics.RecordFailure(elapsed)
		d.counter.Release(1)
		settled = true
		return d.recordFailure(writeCtx, msg, err)
	}

	d.metrics.RecordSuccess(elapsed)
	status = model.MessageStatusSent
	upd := model.StatusUpdate{
		Status:            status,
		ProviderMessageID: receipt.ProviderMessageID,
		At:                d.clock.Now(),
	}
	if err := d.messages.UpdateStatus(writeCtx, msg.ID, sendingOnly, upd); err != nil {
		// the provider accepted it, so it counts whatever the store says
		d.counter.Commit(1)
		settled = true
		logger.Error("failed to record sent message", "message_id", msg.ID, "provider_message_id", receipt.ProviderMessageID, "error", err)
		return status
	}
	if receipt.Delivered {
		at := receipt.At.UTC()
		if at.IsZero() {
			at = d.clock.Now()
		}
		err := d.messages.UpdateStatus(writeCtx, msg.ID, []model.MessageStatus{model.MessageStatusSent}, model.StatusUpdate{
			Status: model.MessageStatusDelivered,
			At:     at,
		})
		if err == nil {
			status = model.MessageStatusDelivered
		}
	}
	d.counter.Commit(1)
	settled = true

	if msg.CampaignID != nil {
		if err := d.campaigns.IncrementStats(writeCtx, *msg.CampaignID, 1, 0); err != nil {
			logger.Warn("failed to update campaign stats", "campaign_id", *msg.CampaignID, "error", err)
		}
	}
	prom.IncDispatchedMessage(string(msg.Channel), string(status))
	logger.Debug("message sent",
		"message_id", msg.ID,
		"recipient_id", msg.RecipientID,
		"template_id", msg.TemplateID,
		"channel", msg.Channel,
		"provider", receipt.Provider)
	return status
}

func (d *Dispatcher) recordFailure(ctx context.Context, msg *model.Message, sendErr error) model.MessageStatus {
	status := model.MessageStatusFailed
	reason := sendErr.Error()
	code, hard := gateway.HardFailure(sendErr)
	if hard {
		status = model.MessageStatusBounced
		reason = code
	}

	logger.Warn("message delivery failed",
		"message_id", msg.ID,
		"recipient_id", msg.RecipientID,
		"template_id", msg.TemplateID,
		"channel", msg.Channel,
		"hard", hard,
		"error", sendErr)

	conflict := false
	err := d.inTx(ctx, func(ctx context.Context) error {
		err := d.messages.UpdateStatus(ctx, msg.ID, sendingOnly, model.StatusUpdate{
			Status:        status,
			FailureReason: reason,
			At:            d.clock.Now(),
		})
		if errors.Is(err, repository.ErrStatusConflict) {
			// reclaimed meanwhile; the address is still bad
			conflict = true
		} else if err != nil {
			return err
		}
		if !hard {
			return nil
		}
		recipientID := msg.RecipientID
		_, err = d.optOuts.Create(ctx, &model.OptOut{
			RecipientID: &recipientID,
			Channel:     msg.Channel,
			Address:     msg.Address,
			Reason:      code,
			CreatedAt:   d.clock.Now(),
		})
		return err
	})
	if err != nil {
		logger.Error("failed to record failed message", "message_id", msg.ID, "hard", hard, "code", code, "error", err)
	}
	if conflict {
		logger.Warn("message left sending before its failure was recorded", "message_id", msg.ID)
	}

	if msg.CampaignID != nil {
		if err := d.campaigns.IncrementStats(ctx, *msg.CampaignID, 0, 1); err != nil {
			logger.Warn("failed to update campaign stats", "campaign_id", *msg.CampaignID, "error", err)
		}
	}
	prom.IncDispatchedMessage(string(msg.Channel), string(status))
	return status
}

func keys(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
