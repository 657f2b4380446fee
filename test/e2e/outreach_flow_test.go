package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gateway "github.com/nimasrn/outreach-engine/internal/gateways"
	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/internal/processor"
	"github.com/nimasrn/outreach-engine/internal/ratelimit"
	"github.com/nimasrn/outreach-engine/internal/repository"
	"github.com/nimasrn/outreach-engine/internal/scheduler"
	"github.com/nimasrn/outreach-engine/internal/sequence"
	"github.com/nimasrn/outreach-engine/internal/services"
	"github.com/nimasrn/outreach-engine/internal/targeting"
	"github.com/nimasrn/outreach-engine/internal/templates"
	"github.com/nimasrn/outreach-engine/pkg/clock"
	"github.com/nimasrn/outreach-engine/test/fixtures"
	"github.com/nimasrn/outreach-engine/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type TestEnvironment struct {
	Clock      *clock.Fake
	Redis      *miniredis.Miniredis
	Provider   *helpers.FakeProvider
	Recipients *repository.RecipientRepository
	Campaigns  *repository.CampaignRepository
	Messages   *repository.MessageRepository
	OptOuts    *repository.OptOutRepository
	Counter    *ratelimit.Counter
	Dispatcher *processor.Dispatcher
	Scheduler  *scheduler.Scheduler
}

func setupE2EEnvironment(t *testing.T, limits ratelimit.Limits) *TestEnvironment {
	t.Helper()
	ctx := context.Background()
	db := helpers.SetupTestDB(t)
	mr, adapter := helpers.SetupTestRedis(t)
	provider := helpers.StartFakeProvider(t)
	clk := clock.NewFake(start)

	smsConfig := gateway.DefaultSMSConfig(gateway.ProviderConfig{Name: "primary", URL: provider.URL, Weight: 100})
	smsConfig.HealthCheckInterval = 0
	smsClient, err := gateway.NewSMSClient(smsConfig)
	require.NoError(t, err)
	t.Cleanup(func() { _ = smsClient.Close() })

	router := gateway.NewRouter().
		Handle(model.ChannelSMS, smsClient).
		Handle(model.ChannelEmail, gateway.NewEmailClient(gateway.EmailConfig{URL: provider.URL, Sender: "hello@outreach.test"}))

	env := &TestEnvironment{
		Clock:      clk,
		Redis:      mr,
		Provider:   provider,
		Recipients: repository.NewRecipientRepository(db),
		Campaigns:  repository.NewCampaignRepository(db),
		Messages:   repository.NewMessageRepository(db),
		OptOuts:    repository.NewOptOutRepository(db),
	}
	settings := repository.NewSettingsRepository(db)

	env.Counter = ratelimit.NewCounter(env.Messages, clk, time.UTC, limits).WithMirror(adapter)
	require.NoError(t, env.Counter.Reconcile(ctx))
	admission := ratelimit.NewAdmission(env.Messages, clk, time.UTC, 50)

	env.Dispatcher = processor.NewDispatcher(env.Messages, env.Campaigns, env.OptOuts, admission, settings, router, env.Counter, clk,
		processor.DispatcherConfig{
			Defaults: model.Settings{
				GlobalHourlyLimit: limits.Hourly,
				GlobalDailyLimit:  limits.Daily,
				DispatchBatchSize: 50,
			},
			Concurrency: 4,
		}).WithTransactor(db)
	monitor := processor.NewHealthMonitor(env.Messages, settings, clk, processor.HealthConfig{
		ReclaimTimeout:        time.Hour,
		StalePendingThreshold: 6 * time.Hour,
	})
	generator := services.NewGenerationService(
		env.Campaigns,
		env.Messages,
		env.OptOuts,
		targeting.NewFilter(env.Recipients, clk),
		sequence.NewResolver(env.Messages, clk, time.UTC),
		sequence.Default(),
		templates.Default(),
		admission,
		clk,
		services.GenerationConfig{PageSize: 10},
	)

	env.Scheduler = scheduler.New(clk, env.Dispatcher, generator, monitor, env.Counter, scheduler.Config{
		DispatchInterval:   5 * time.Minute,
		GenerationInterval: time.Hour,
		HealthInterval:     30 * time.Minute,
		CounterInterval:    time.Minute,
	}).WithLock(processor.NewTickLock(adapter, processor.DefaultLockConfig()))

	return env
}

func (env *TestEnvironment) run(t *testing.T, task string) {
	t.Helper()
	ran, err := env.Scheduler.RunTask(context.Background(), task)
	require.NoError(t, err)
	require.True(t, ran, task)
}

func (env *TestEnvironment) recipient(t *testing.T, r *model.Recipient) *model.Recipient {
	t.Helper()
	created, err := env.Recipients.Create(context.Background(), r)
	require.NoError(t, err)
	return created
}

func (env *TestEnvironment) campaign(t *testing.T, c *model.Campaign) *model.Campaign {
	t.Helper()
	created, err := env.Campaigns.Create(context.Background(), c)
	require.NoError(t, err)
	return created
}

func (env *TestEnvironment) messagesFor(t *testing.T, recipientID, campaignID *int64) []*model.Message {
	t.Helper()
	msgs, err := env.Messages.List(context.Background(), recipientID, campaignID)
	require.NoError(t, err)
	return msgs
}

func countStatus(msgs []*model.Message, status model.MessageStatus) int {
	n := 0
	for _, m := range msgs {
		if m.Status == status {
			n++
		}
	}
	return n
}

func TestOnboardingSequence_GeneratesAndDeliversEachStepOnce(t *testing.T) {
	env := setupE2EEnvironment(t, ratelimit.Limits{Hourly: 100, Daily: 1000})
	rec := env.recipient(t, fixtures.NewRecipient("acme", start, 3, fixtures.Phone(1), fixtures.Email(1)))
	c := env.campaign(t, fixtures.NewSequenceCampaign("onboarding", model.ChannelSMS, 100, 100))

	env.run(t, scheduler.TaskGeneration)
	msgs := env.messagesFor(t, &rec.ID, &c.ID)
	require.Len(t, msgs, 3)
	assert.Equal(t, 3, countStatus(msgs, model.MessageStatusPending))

	env.run(t, scheduler.TaskDispatch)
	msgs = env.messagesFor(t, &rec.ID, &c.ID)
	assert.Equal(t, 3, countStatus(msgs, model.MessageStatusDelivered))
	for _, m := range msgs {
		assert.Equal(t, 1, env.Provider.Hits("sms", m.ID), m.TemplateID)
	}

	// repeated generation and dispatch ticks change nothing
	for i := 0; i < 3; i++ {
		env.Clock.Set(env.Clock.Now().Add(time.Hour))
		env.run(t, scheduler.TaskGeneration)
		env.run(t, scheduler.TaskDispatch)
	}
	assert.Len(t, env.messagesFor(t, &rec.ID, &c.ID), 3)
	assert.Empty(t, env.Provider.Duplicates())

	stored, err := env.Campaigns.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.SentCount)
	assert.True(t, env.Redis.Exists("outreach:ratelimit:global"))
}

func TestCampaignDailyCap_SpreadsBacklogAcrossDays(t *testing.T) {
	env := setupE2EEnvironment(t, ratelimit.Limits{Hourly: 100, Daily: 1000})
	c := env.campaign(t, fixtures.NewDirectCampaign("promo", model.ChannelSMS, "welcome_sms", 5, 100))
	for i := 0; i < 12; i++ {
		rec := env.recipient(t, fixtures.NewRecipient("biz", start, 10, fixtures.Phone(100+i), ""))
		created, err := env.Messages.CreateIfAbsent(context.Background(),
			fixtures.NewPendingMessage(rec.ID, &c.ID, "welcome_sms", model.ChannelSMS, rec.Phone, start.Add(-time.Duration(12-i)*time.Minute)))
		require.NoError(t, err)
		require.True(t, created)
	}

	sentAfter := func() int {
		return countStatus(env.messagesFor(t, nil, &c.ID), model.MessageStatusDelivered)
	}

	env.run(t, scheduler.TaskDispatch)
	assert.Equal(t, 5, sentAfter())

	env.Clock.Set(start.Add(2 * time.Hour))
	env.run(t, scheduler.TaskDispatch)
	assert.Equal(t, 5, sentAfter(), "daily cap holds within the same day")

	env.Clock.Set(start.Add(24 * time.Hour))
	env.run(t, scheduler.TaskCounter)
	env.run(t, scheduler.TaskDispatch)
	assert.Equal(t, 10, sentAfter())

	env.Clock.Set(start.Add(48 * time.Hour))
	env.run(t, scheduler.TaskDispatch)
	assert.Equal(t, 12, sentAfter())
	assert.Empty(t, env.Provider.Duplicates())
}

func TestGlobalHourlyLimit_AppliesAcrossCampaigns(t *testing.T) {
	env := setupE2EEnvironment(t, ratelimit.Limits{Hourly: 4, Daily: 100})
	for _, name := range []string{"first", "second"} {
		c := env.campaign(t, fixtures.NewDirectCampaign(name, model.ChannelSMS, "welcome_sms", 100, 100))
		for i := 0; i < 3; i++ {
			rec := env.recipient(t, fixtures.NewRecipient(name, start, 10, fixtures.Phone(int(c.ID)*10+i), ""))
			_, err := env.Messages.CreateIfAbsent(context.Background(),
				fixtures.NewPendingMessage(rec.ID, &c.ID, "welcome_sms", model.ChannelSMS, rec.Phone, start.Add(-time.Hour)))
			require.NoError(t, err)
		}
	}

	env.run(t, scheduler.TaskDispatch)
	assert.Len(t, env.Provider.Received(), 4)

	env.Clock.Set(start.Add(30 * time.Minute))
	env.run(t, scheduler.TaskDispatch)
	assert.Len(t, env.Provider.Received(), 4)

	env.Clock.Set(start.Add(61 * time.Minute))
	env.run(t, scheduler.TaskCounter)
	env.run(t, scheduler.TaskDispatch)
	assert.Len(t, env.Provider.Received(), 6)
	assert.Equal(t, int64(2), env.Counter.Snapshot().Hourly)
}

func TestOptOut_OnlyTheOpenChannelIsUsed(t *testing.T) {
	env := setupE2EEnvironment(t, ratelimit.Limits{Hourly: 100, Daily: 1000})
	ctx := context.Background()
	rec := env.recipient(t, fixtures.NewRecipient("acme", start, 1, fixtures.Phone(7), fixtures.Email(7)))
	c := env.campaign(t, fixtures.NewSequenceCampaign("onboarding", model.ChannelBoth, 100, 100))
	_, err := env.OptOuts.Create(ctx, &model.OptOut{RecipientID: &rec.ID, Channel: model.ChannelSMS, Reason: "STOP"})
	require.NoError(t, err)

	env.run(t, scheduler.TaskGeneration)
	env.run(t, scheduler.TaskDispatch)

	msgs := env.messagesFor(t, &rec.ID, &c.ID)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, model.ChannelEmail, m.Channel)
		assert.Equal(t, model.MessageStatusSent, m.Status)
	}
	assert.NotContains(t, env.Provider.Received(), fixtures.Phone(7))
	assert.Equal(t, []string{fixtures.Email(7), fixtures.Email(7)}, env.Provider.Received())
}

func TestOptOut_RecordedAfterGenerationStillBlocksDispatch(t *testing.T) {
	env := setupE2EEnvironment(t, ratelimit.Limits{Hourly: 100, Daily: 1000})
	ctx := context.Background()
	rec := env.recipient(t, fixtures.NewRecipient("acme", start, 0, fixtures.Phone(8), ""))
	c := env.campaign(t, fixtures.NewSequenceCampaign("onboarding", model.ChannelSMS, 100, 100))

	env.run(t, scheduler.TaskGeneration)
	_, err := env.OptOuts.Create(ctx, &model.OptOut{Channel: model.ChannelAll, Address: fixtures.Phone(8), Reason: "complaint"})
	require.NoError(t, err)
	env.run(t, scheduler.TaskDispatch)

	msgs := env.messagesFor(t, &rec.ID, &c.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageStatusOptedOut, msgs[0].Status)
	assert.Empty(t, env.Provider.Received())
}

func TestHardBounce_BlocksAddressForLaterCampaigns(t *testing.T) {
	env := setupE2EEnvironment(t, ratelimit.Limits{Hourly: 100, Daily: 1000})
	ctx := context.Background()
	rec := env.recipient(t, fixtures.NewRecipient("acme", start, 10, fixtures.Phone(9), ""))
	first := env.campaign(t, fixtures.NewDirectCampaign("first", model.ChannelSMS, "welcome_sms", 100, 100))
	env.Provider.FailSMS(fixtures.Phone(9), gateway.CodeInvalidNumber)

	env.run(t, scheduler.TaskGeneration)
	env.run(t, scheduler.TaskDispatch)

	msgs := env.messagesFor(t, &rec.ID, &first.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageStatusBounced, msgs[0].Status)
	assert.Equal(t, gateway.CodeInvalidNumber, msgs[0].FailureReason)

	blocked, err := env.OptOuts.IsBlocked(ctx, rec.ID, model.ChannelSMS, fixtures.Phone(9))
	require.NoError(t, err)
	assert.True(t, blocked)

	second := env.campaign(t, fixtures.NewDirectCampaign("second", model.ChannelSMS, "day1_sms", 100, 100))
	env.run(t, scheduler.TaskGeneration)
	assert.Empty(t, env.messagesFor(t, &rec.ID, &second.ID))
	assert.Equal(t, 1, env.Provider.Hits("sms", msgs[0].ID))
}

func TestSoftFailure_IsTerminalAndNeverResent(t *testing.T) {
	env := setupE2EEnvironment(t, ratelimit.Limits{Hourly: 100, Daily: 1000})
	rec := env.recipient(t, fixtures.NewRecipient("acme", start, 10, fixtures.Phone(10), ""))
	c := env.campaign(t, fixtures.NewDirectCampaign("promo", model.ChannelSMS, "welcome_sms", 100, 100))
	env.Provider.FailSMS(fixtures.Phone(10), "NETWORK_ERROR")

	env.run(t, scheduler.TaskGeneration)
	env.run(t, scheduler.TaskDispatch)
	env.Clock.Set(start.Add(10 * time.Minute))
	env.run(t, scheduler.TaskDispatch)

	msgs := env.messagesFor(t, &rec.ID, &c.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageStatusFailed, msgs[0].Status)
	assert.Equal(t, 1, env.Provider.Hits("sms", msgs[0].ID))

	stored, err := env.Campaigns.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.FailedCount)
	assert.Zero(t, env.Counter.Snapshot().Hourly)
}

func TestStuckSending_ReclaimedAsFailedAndNeverSent(t *testing.T) {
	env := setupE2EEnvironment(t, ratelimit.Limits{Hourly: 100, Daily: 1000})
	ctx := context.Background()
	rec := env.recipient(t, fixtures.NewRecipient("acme", start, 10, fixtures.Phone(11), ""))
	c := env.campaign(t, fixtures.NewDirectCampaign("promo", model.ChannelSMS, "welcome_sms", 100, 100))

	msg := fixtures.NewPendingMessage(rec.ID, &c.ID, "welcome_sms", model.ChannelSMS, rec.Phone, start)
	_, err := env.Messages.CreateIfAbsent(ctx, msg)
	require.NoError(t, err)
	require.NoError(t, env.Messages.UpdateStatus(ctx, msg.ID,
		[]model.MessageStatus{model.MessageStatusPending},
		model.StatusUpdate{Status: model.MessageStatusSending, At: start}))

	env.Clock.Set(start.Add(30 * time.Minute))
	env.run(t, scheduler.TaskHealth)
	stored, err := env.Messages.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusSending, stored.Status, "not yet past the reclaim timeout")

	env.Clock.Set(start.Add(2 * time.Hour))
	env.run(t, scheduler.TaskHealth)
	env.run(t, scheduler.TaskDispatch)

	stored, err = env.Messages.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusFailed, stored.Status)
	assert.Equal(t, "delivery timeout", stored.FailureReason)
	assert.Zero(t, env.Provider.Hits("sms", msg.ID))

	st := env.Scheduler.Status()
	require.NotNil(t, st.LastHealth)
	assert.Equal(t, int64(1), st.LastHealth.Reclaimed)
}

func TestProviderDown_MessagesFailWithoutRetry(t *testing.T) {
	env := setupE2EEnvironment(t, ratelimit.Limits{Hourly: 100, Daily: 1000})
	rec := env.recipient(t, fixtures.NewRecipient("acme", start, 10, "", fixtures.Email(12)))
	c := env.campaign(t, fixtures.NewDirectCampaign("promo", model.ChannelEmail, "welcome_email", 100, 100))
	env.Provider.SetDown(true)

	env.run(t, scheduler.TaskGeneration)
	env.run(t, scheduler.TaskDispatch)

	msgs := env.messagesFor(t, &rec.ID, &c.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageStatusFailed, msgs[0].Status)
	assert.Contains(t, msgs[0].FailureReason, "503")

	env.Provider.SetDown(false)
	env.Clock.Set(start.Add(10 * time.Minute))
	env.run(t, scheduler.TaskDispatch)
	assert.Empty(t, env.Provider.Received())
}

func TestSchedulerLoop_TickersDriveTheWholePipeline(t *testing.T) {
	env := setupE2EEnvironment(t, ratelimit.Limits{Hourly: 100, Daily: 1000})
	rec := env.recipient(t, fixtures.NewRecipient("acme", start, 1, fixtures.Phone(13), ""))
	c := env.campaign(t, fixtures.NewSequenceCampaign("onboarding", model.ChannelSMS, 100, 100))

	env.Scheduler.Start(context.Background())
	t.Cleanup(env.Scheduler.Stop)

	helpers.AssertEventually(t, 5*time.Second, func() bool {
		env.Clock.Advance(5 * time.Minute)
		msgs := env.messagesFor(t, &rec.ID, &c.ID)
		return len(msgs) >= 2 && countStatus(msgs, model.MessageStatusDelivered) == len(msgs)
	}, "sequence steps were not generated and delivered by the loop")

	env.Scheduler.Stop()
	assert.Empty(t, env.Provider.Duplicates())
	st := env.Scheduler.Status()
	assert.NotNil(t, st.StartedAt)
	assert.NotNil(t, st.Delivery)
}
