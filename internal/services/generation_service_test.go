package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/internal/ratelimit"
	"github.com/nimasrn/outreach-engine/internal/repository"
	"github.com/nimasrn/outreach-engine/internal/sequence"
	"github.com/nimasrn/outreach-engine/internal/targeting"
	"github.com/nimasrn/outreach-engine/internal/templates"
	"github.com/nimasrn/outreach-engine/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 4, 15, 14, 0, 0, 0, time.UTC)

type fixture struct {
	svc        *GenerationService
	recipients *repository.RecipientRepository
	campaigns  *repository.CampaignRepository
	messages   *repository.MessageRepository
	optOuts    *repository.OptOutRepository
	clock      *clock.Fake
}

func setup(t *testing.T, batchCeiling, pageSize int) *fixture {
	t.Helper()
	db := repository.OpenTestDB(t)
	f := &fixture{
		recipients: repository.NewRecipientRepository(db),
		campaigns:  repository.NewCampaignRepository(db),
		messages:   repository.NewMessageRepository(db),
		optOuts:    repository.NewOptOutRepository(db),
		clock:      clock.NewFake(now),
	}
	f.svc = NewGenerationService(
		f.campaigns,
		f.messages,
		f.optOuts,
		targeting.NewFilter(f.recipients, f.clock),
		sequence.NewResolver(f.messages, f.clock, time.UTC),
		sequence.Default(),
		templates.Default(),
		ratelimit.NewAdmission(f.messages, f.clock, time.UTC, batchCeiling),
		f.clock,
		GenerationConfig{PageSize: pageSize},
	)
	return f
}

func (f *fixture) recipient(t *testing.T, name string, registeredDaysAgo int, phone, email string) *model.Recipient {
	t.Helper()
	var registered *time.Time
	if registeredDaysAgo >= 0 {
		d := now.AddDate(0, 0, -registeredDaysAgo)
		registered = &d
	}
	rec, err := f.recipients.Create(context.Background(), &model.Recipient{
		Name:             name,
		BusinessName:     name + " LLC",
		State:            "TX",
		BusinessType:     "llc",
		RegistrationDate: registered,
		Phone:            phone,
		Email:            email,
		Status:           model.RecipientStatusActive,
	})
	require.NoError(t, err)
	return rec
}

func (f *fixture) campaign(t *testing.T, c model.Campaign) *model.Campaign {
	t.Helper()
	if c.Name == "" {
		c.Name = "onboarding"
	}
	if c.DailyLimit == 0 {
		c.DailyLimit = 1000
	}
	if c.HourlyLimit == 0 {
		c.HourlyLimit = 1000
	}
	c.Active = true
	created, err := f.campaigns.Create(context.Background(), &c)
	require.NoError(t, err)
	return created
}

func (f *fixture) templatesFor(t *testing.T, recipientID, campaignID int64) []string {
	t.Helper()
	msgs, err := f.messages.List(context.Background(), &recipientID, &campaignID)
	require.NoError(t, err)
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.TemplateID
	}
	return out
}

func TestGeneration_SequenceCreatesEveryDueStepOnce(t *testing.T) {
	f := setup(t, 50, 100)
	ctx := context.Background()
	rec := f.recipient(t, "acme", 3, "+15550001", "")
	c := f.campaign(t, model.Campaign{Channel: model.ChannelSMS})

	report, err := f.svc.GenerateCampaign(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Created)
	assert.ElementsMatch(t, []string{"welcome_sms", "day1_sms", "day3_sms"}, f.templatesFor(t, rec.ID, c.ID))

	report, err = f.svc.GenerateCampaign(ctx, c)
	require.NoError(t, err)
	assert.Zero(t, report.Created)
	assert.Len(t, f.templatesFor(t, rec.ID, c.ID), 3)
}

func TestGeneration_RenderedContentAndAddress(t *testing.T) {
	f := setup(t, 50, 100)
	rec := f.recipient(t, "acme", 0, "", "owner@acme.test")
	c := f.campaign(t, model.Campaign{Channel: model.ChannelEmail})

	_, err := f.svc.GenerateCampaign(context.Background(), c)
	require.NoError(t, err)

	msgs, err := f.messages.List(context.Background(), &rec.ID, &c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "welcome_email", msgs[0].TemplateID)
	assert.Equal(t, "owner@acme.test", msgs[0].Address)
	assert.Equal(t, "Welcome, acme LLC", msgs[0].Subject)
	assert.Contains(t, msgs[0].Content, "registering acme LLC in TX")
	assert.Equal(t, model.MessageStatusPending, msgs[0].Status)
	assert.WithinDuration(t, now, msgs[0].CreatedAt, time.Second)
}

func TestGeneration_OptedOutChannelSkippedOtherChannelStillGenerated(t *testing.T) {
	f := setup(t, 50, 100)
	ctx := context.Background()
	rec := f.recipient(t, "acme", 1, "+15550002", "owner@acme.test")
	c := f.campaign(t, model.Campaign{Channel: model.ChannelBoth})

	_, err := f.optOuts.Create(ctx, &model.OptOut{RecipientID: &rec.ID, Channel: model.ChannelSMS, Reason: "STOP"})
	require.NoError(t, err)

	report, err := f.svc.GenerateCampaign(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 2, report.Skipped)
	assert.ElementsMatch(t, []string{"welcome_email", "day1_email"}, f.templatesFor(t, rec.ID, c.ID))
}

func TestGeneration_FullyOptedOutRecipientIsNotTargeted(t *testing.T) {
	f := setup(t, 50, 100)
	ctx := context.Background()
	rec := f.recipient(t, "acme", 1, "+15550003", "owner@acme.test")
	c := f.campaign(t, model.Campaign{Channel: model.ChannelBoth})

	_, err := f.optOuts.Create(ctx, &model.OptOut{Channel: model.ChannelAll, Address: "owner@acme.test", Reason: "unsubscribe"})
	require.NoError(t, err)

	report, err := f.svc.GenerateCampaign(ctx, c)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Empty(t, f.templatesFor(t, rec.ID, c.ID))
}

func TestGeneration_CapacityBoundsCreation(t *testing.T) {
	f := setup(t, 4, 2)
	ctx := context.Background()
	for i, name := range []string{"a", "b", "c", "d", "e", "f"} {
		f.recipient(t, name, 10+i, fmt.Sprintf("+1555000%d", i), "")
	}
	c := f.campaign(t, model.Campaign{Channel: model.ChannelSMS, TemplateID: "welcome_sms"})

	report, err := f.svc.GenerateCampaign(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Capacity)
	assert.Equal(t, 4, report.Created)

	// pending backlog counts against the next run
	report, err = f.svc.GenerateCampaign(ctx, c)
	require.NoError(t, err)
	assert.Zero(t, report.Capacity)
	assert.Zero(t, report.Created)
}

func TestGeneration_DirectCampaignPagesPastGeneratedRecipients(t *testing.T) {
	f := setup(t, 50, 2)
	ctx := context.Background()
	var ids []int64
	for i, name := range []string{"a", "b", "c", "d", "e"} {
		ids = append(ids, f.recipient(t, name, 20-i, fmt.Sprintf("+1555100%d", i), "").ID)
	}
	c := f.campaign(t, model.Campaign{Channel: model.ChannelSMS, TemplateID: "day3_sms"})

	report, err := f.svc.GenerateCampaign(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Created)
	for _, id := range ids {
		assert.Equal(t, []string{"day3_sms"}, f.templatesFor(t, id, c.ID))
	}
}

func TestGeneration_MissingRegistrationDateSkipsRecipientOnly(t *testing.T) {
	f := setup(t, 50, 100)
	undated := f.recipient(t, "undated", -1, "+15550004", "")
	dated := f.recipient(t, "dated", 0, "+15550005", "")
	c := f.campaign(t, model.Campaign{Channel: model.ChannelSMS})

	report, err := f.svc.GenerateCampaign(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, f.templatesFor(t, undated.ID, c.ID))
	assert.Equal(t, []string{"welcome_sms"}, f.templatesFor(t, dated.ID, c.ID))
}

func TestGeneration_RunSkipsInvalidAndMisconfiguredCampaigns(t *testing.T) {
	f := setup(t, 50, 100)
	f.recipient(t, "acme", 0, "+15550006", "")

	good := f.campaign(t, model.Campaign{Channel: model.ChannelSMS})
	f.campaign(t, model.Campaign{Channel: model.ChannelSMS, SequenceName: "missing"})
	f.campaign(t, model.Campaign{Channel: model.ChannelSMS, TemplateID: "welcome_email"})
	future := now.Add(48 * time.Hour)
	f.campaign(t, model.Campaign{Channel: model.ChannelSMS, StartDate: &future})

	reports, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, good.ID, reports[0].CampaignID)
	assert.Equal(t, 1, reports[0].Created)

	stored, err := f.campaigns.Get(context.Background(), good.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastRunAt)
}
