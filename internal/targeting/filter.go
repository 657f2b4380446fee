package targeting

import (
	"context"
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/pkg/clock"
)

const (
	DefaultPageSize = 500
	MaxPageSize     = 5000
)

// Predicates are combined with AND. Zero valued fields do not constrain.
type Predicates struct {
	States         []string
	BusinessTypes  []string
	RegisteredFrom *time.Time
	RegisteredTo   *time.Time
	// Channel is what the caller intends to send on; it drives both the
	// contact requirement and the opt-out exclusion.
	Channel                 model.Channel
	RequireContact          bool
	RequireRegistrationDate bool
	NotContactedWithinDays  int
	NotInCampaign           *int64
	// IncludeOptedOut disables the opt-out exclusion. Nothing in the
	// scheduler sets it; it exists for audits.
	IncludeOptedOut bool
}

type Page struct {
	Limit  int
	Offset int
}

type RecipientFinder interface {
	Find(ctx context.Context, scopes ...Scope) ([]*model.Recipient, error)
	Count(ctx context.Context, scopes ...Scope) (int64, error)
}

// Filter selects eligible recipients, earliest registered first. It never writes.
type Filter struct {
	recipients RecipientFinder
	clock      clock.Clock
}

func NewFilter(recipients RecipientFinder, clk clock.Clock) *Filter {
	if clk == nil {
		clk = clock.System{}
	}
	return &Filter{
		recipients: recipients,
		clock:      clk,
	}
}

func (f *Filter) Select(ctx context.Context, p Predicates, page Page) ([]*model.Recipient, error) {
	scopes := append(f.Scopes(p), oldestFirst(), paginate(page))
	return f.recipients.Find(ctx, scopes...)
}

func (f *Filter) Count(ctx context.Context, p Predicates) (int64, error) {
	return f.recipients.Count(ctx, f.Scopes(p)...)
}

// Scopes translates p into query scopes, without ordering or paging.
func (f *Filter) Scopes(p Predicates) []Scope {
	scopes := []Scope{activeOnly()}
	if !p.IncludeOptedOut {
		scopes = append(scopes, excludeOptedOut(p.Channel))
	}
	if len(p.States) > 0 {
		scopes = append(scopes, InStates(p.States))
	}
	if len(p.BusinessTypes) > 0 {
		scopes = append(scopes, InBusinessTypes(p.BusinessTypes))
	}
	if p.RegisteredFrom != nil || p.RegisteredTo != nil {
		scopes = append(scopes, RegisteredBetween(p.RegisteredFrom, p.RegisteredTo))
	}
	if p.RequireRegistrationDate {
		scopes = append(scopes, HasRegistrationDate())
	}
	if p.RequireContact {
		scopes = append(scopes, HasChannel(p.Channel))
	}
	if p.NotContactedWithinDays > 0 {
		since := f.clock.Now().AddDate(0, 0, -p.NotContactedWithinDays)
		scopes = append(scopes, NotContactedSince(since))
	}
	if p.NotInCampaign != nil {
		scopes = append(scopes, NotInCampaign(*p.NotInCampaign))
	}
	return scopes
}

// ForCampaign builds the predicates a campaign targets.
func ForCampaign(c *model.Campaign) Predicates {
	p := Predicates{
		States:         c.TargetStates,
		BusinessTypes:  c.TargetBusinessTypes,
		RegisteredFrom: c.RegisteredFrom,
		RegisteredTo:   c.RegisteredTo,
		Channel:        c.Channel,
		RequireContact: true,
	}
	if c.IsDirect() {
		id := c.ID
		p.NotInCampaign = &id
		p.NotContactedWithinDays = c.CooldownDays
	}
	return p
}
