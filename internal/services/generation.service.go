package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/internal/sequence"
	"github.com/nimasrn/outreach-engine/internal/targeting"
	"github.com/nimasrn/outreach-engine/internal/templates"
	"github.com/nimasrn/outreach-engine/pkg/clock"
	"github.com/nimasrn/outreach-engine/pkg/logger"
	"github.com/nimasrn/outreach-engine/pkg/prom"
)

var ErrTemplateChannel = errors.New("template channel not targeted by campaign")

type CampaignRepository interface {
	ListActive(ctx context.Context) ([]*model.Campaign, error)
	TouchLastRun(ctx context.Context, id int64, at time.Time) error
}

type MessageRepository interface {
	CreateIfAbsent(ctx context.Context, msg *model.Message) (bool, error)
	PendingCountByCampaign(ctx context.Context, campaignID int64) (int64, error)
}

type OptOutRepository interface {
	BlockedChannels(ctx context.Context, rec *model.Recipient) (map[model.Channel]bool, error)
}

type RecipientSelector interface {
	Select(ctx context.Context, p targeting.Predicates, page targeting.Page) ([]*model.Recipient, error)
}

type DueResolver interface {
	ResolveDue(ctx context.Context, rec *model.Recipient, def model.SequenceDefinition, campaign *model.Campaign) ([]model.DueStep, error)
}

type CampaignGate interface {
	Admit(ctx context.Context, c *model.Campaign) (int, error)
}

type GenerationConfig struct {
	PageSize int
}

// GenerationService turns active campaigns into pending messages. Every
// insert goes through the (recipient, campaign, template) unique key, so
// running it twice, or on two replicas at once, never duplicates a step.
type GenerationService struct {
	campaigns CampaignRepository
	messages  MessageRepository
	optOuts   OptOutRepository
	targeting RecipientSelector
	resolver  DueResolver
	sequences *sequence.Registry
	templates *templates.Registry
	gate      CampaignGate
	clock     clock.Clock
	config    GenerationConfig
}

func NewGenerationService(
	campaigns CampaignRepository,
	messages MessageRepository,
	optOuts OptOutRepository,
	selector RecipientSelector,
	resolver DueResolver,
	sequences *sequence.Registry,
	tpls *templates.Registry,
	gate CampaignGate,
	clk clock.Clock,
	config GenerationConfig,
) *GenerationService {
	if clk == nil {
		clk = clock.System{}
	}
	if config.PageSize <= 0 {
		config.PageSize = targeting.DefaultPageSize
	}
	return &GenerationService{
		campaigns: campaigns,
		messages:  messages,
		optOuts:   optOuts,
		targeting: selector,
		resolver:  resolver,
		sequences: sequences,
		templates: tpls,
		gate:      gate,
		clock:     clk,
		config:    config,
	}
}

// Run generates for every active campaign inside its window. Invalid or
// misconfigured campaigns are logged and skipped; store errors abort.
func (s *GenerationService) Run(ctx context.Context) ([]model.GenerationReport, error) {
	campaigns, err := s.campaigns.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	reports := make([]model.GenerationReport, 0, len(campaigns))
	for _, c := range campaigns {
		if !c.IsRunning(now) {
			continue
		}
		if err := c.Validate(); err != nil {
			logger.Warn("invalid campaign skipped", "campaign_id", c.ID, "error", err)
			continue
		}

		report, err := s.GenerateCampaign(ctx, c)
		if isConfigError(err) {
			logger.Error("campaign misconfigured, skipped", "campaign_id", c.ID, "error", err)
			continue
		}
		if err != nil {
			return reports, fmt.Errorf("campaign %d: %w", c.ID, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func isConfigError(err error) bool {
	return errors.Is(err, sequence.ErrUnknownSequence) ||
		errors.Is(err, templates.ErrUnknownTemplate) ||
		errors.Is(err, ErrTemplateChannel)
}

// GenerateCampaign creates at most admit(c) minus the campaign's pending
// backlog new messages, walking recipients earliest registered first.
func (s *GenerationService) GenerateCampaign(ctx context.Context, c *model.Campaign) (model.GenerationReport, error) {
	report := model.GenerationReport{CampaignID: c.ID}

	plan, err := s.planFor(c)
	if err != nil {
		return report, err
	}

	admitted, err := s.gate.Admit(ctx, c)
	if err != nil {
		return report, err
	}
	pending, err := s.messages.PendingCountByCampaign(ctx, c.ID)
	if err != nil {
		return report, err
	}
	report.Capacity = max(admitted-int(pending), 0)
	if report.Capacity == 0 {
		logger.Debug("campaign has no capacity this tick", "campaign_id", c.ID, "admitted", admitted, "pending", pending)
		return report, nil
	}

	predicates := targeting.ForCampaign(c)
	offset := 0
	for report.Created < report.Capacity {
		page, err := s.targeting.Select(ctx, predicates, targeting.Page{Limit: s.config.PageSize, Offset: offset})
		if err != nil {
			return report, err
		}

		createdBefore := report.Created
		for _, rec := range page {
			if report.Created >= report.Capacity {
				break
			}
			report.Scanned++
			if err := s.generateFor(ctx, c, plan, rec, &report); err != nil {
				return report, err
			}
		}

		if len(page) < s.config.PageSize {
			break
		}
		offset += len(page)
		if predicates.NotInCampaign != nil {
			// recipients that got their message no longer match the filter
			offset -= report.Created - createdBefore
		}
	}

	now := s.clock.Now()
	if err := s.campaigns.TouchLastRun(ctx, c.ID, now); err != nil {
		logger.Warn("failed to update campaign last run", "campaign_id", c.ID, "error", err)
	}
	if report.Created > 0 {
		prom.AddGeneratedMessages(strconv.FormatInt(c.ID, 10), report.Created)
	}
	logger.Info("campaign generation completed",
		"campaign_id", c.ID,
		"capacity", report.Capacity,
		"scanned", report.Scanned,
		"created", report.Created,
		"existing", report.Existing,
		"skipped", report.Skipped)
	return report, nil
}

// plan is what a campaign sends: a single template or a sequence.
type plan struct {
	template *templates.Template
	sequence model.SequenceDefinition
}

func (s *GenerationService) planFor(c *model.Campaign) (plan, error) {
	if c.IsDirect() {
		t, err := s.templates.Get(c.TemplateID)
		if err != nil {
			return plan{}, err
		}
		if !c.Channel.Includes(t.Channel) {
			return plan{}, fmt.Errorf("%w: %s is %s, campaign is %s", ErrTemplateChannel, t.ID, t.Channel, c.Channel)
		}
		return plan{template: &t}, nil
	}
	def, err := s.sequences.Get(c.Sequence())
	if err != nil {
		return plan{}, err
	}
	return plan{sequence: def}, nil
}

// generateFor creates the messages one recipient is due. Only store errors
// are returned; anything wrong with the recipient is logged and skipped.
func (s *GenerationService) generateFor(ctx context.Context, c *model.Campaign, p plan, rec *model.Recipient, report *model.GenerationReport) error {
	blocked, err := s.optOuts.BlockedChannels(ctx, rec)
	if err != nil {
		return err
	}

	var steps []model.DueStep
	if p.template != nil {
		steps = []model.DueStep{{Channel: p.template.Channel, TemplateID: p.template.ID}}
	} else {
		steps, err = s.resolver.ResolveDue(ctx, rec, p.sequence, c)
		if errors.Is(err, sequence.ErrMissingRegistrationDate) {
			logger.Warn("recipient skipped", "recipient_id", rec.ID, "campaign_id", c.ID, "error", err)
			report.Skipped++
			return nil
		}
		if err != nil {
			return err
		}
	}

	for _, step := range steps {
		if report.Created >= report.Capacity {
			return nil
		}
		if blocked[step.Channel] {
			logger.Debug("step skipped, recipient opted out", "recipient_id", rec.ID, "campaign_id", c.ID, "template_id", step.TemplateID, "channel", step.Channel)
			report.Skipped++
			continue
		}
		address := rec.Address(step.Channel)
		if address == "" {
			log := logger.Warn
			if c.Channel == model.ChannelBoth {
				// expected for single-channel recipients
				log = logger.Debug
			}
			log("step skipped, recipient has no contact for channel", "recipient_id", rec.ID, "campaign_id", c.ID, "template_id", step.TemplateID, "channel", step.Channel)
			report.Skipped++
			continue
		}
		rendered, err := s.templates.Render(step.TemplateID, rec)
		if err != nil {
			logger.Warn("step skipped, template render failed", "recipient_id", rec.ID, "campaign_id", c.ID, "template_id", step.TemplateID, "error", err)
			report.Skipped++
			continue
		}

		now := s.clock.Now()
		campaignID := c.ID
		created, err := s.messages.CreateIfAbsent(ctx, &model.Message{
			RecipientID: rec.ID,
			CampaignID:  &campaignID,
			Channel:     step.Channel,
			TemplateID:  step.TemplateID,
			Address:     address,
			Subject:     rendered.Subject,
			Content:     rendered.Body,
			Status:      model.MessageStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		if created {
			report.Created++
		} else {
			report.Existing++
		}
	}
	return nil
}
