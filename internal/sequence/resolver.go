package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/pkg/clock"
)

var ErrMissingRegistrationDate = errors.New("recipient has no registration date")

type MessageLookup interface {
	ExistingTemplateIDs(ctx context.Context, recipientID int64, campaignID *int64) (map[string]bool, error)
}

// Resolver works out which steps of a sequence are due for a recipient and
// have no message yet. A step whose message exists in any status is done.
type Resolver struct {
	messages MessageLookup
	clock    clock.Clock
	loc      *time.Location
}

func NewResolver(messages MessageLookup, clk clock.Clock, loc *time.Location) *Resolver {
	if clk == nil {
		clk = clock.System{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{
		messages: messages,
		clock:    clk,
		loc:      loc,
	}
}

// DueDate is the registration date shifted by the step offset in whole
// calendar days of the scheduler's timezone.
func (r *Resolver) DueDate(registered time.Time, step model.SequenceStep) time.Time {
	return registered.In(r.loc).AddDate(0, 0, step.OffsetDays)
}

// ResolveDue returns one entry per due step and campaign channel, in
// sequence order. Several steps may be due at once; all are returned.
func (r *Resolver) ResolveDue(ctx context.Context, rec *model.Recipient, def model.SequenceDefinition, campaign *model.Campaign) ([]model.DueStep, error) {
	if rec.RegistrationDate == nil || rec.RegistrationDate.IsZero() {
		return nil, fmt.Errorf("%w: recipient %d", ErrMissingRegistrationDate, rec.ID)
	}

	now := r.clock.Now()
	var candidates []model.DueStep
	for _, step := range def.Steps {
		if r.DueDate(*rec.RegistrationDate, step).After(now) {
			// steps are sorted, later ones are not due either
			break
		}
		for _, ch := range campaign.Channel.Expand() {
			templateID, ok := step.Templates[ch]
			if !ok {
				continue
			}
			candidates = append(candidates, model.DueStep{Step: step, Channel: ch, TemplateID: templateID})
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var campaignID *int64
	if campaign.ID != 0 {
		id := campaign.ID
		campaignID = &id
	}
	existing, err := r.messages.ExistingTemplateIDs(ctx, rec.ID, campaignID)
	if err != nil {
		return nil, err
	}

	due := candidates[:0]
	for _, c := range candidates {
		if existing[c.TemplateID] {
			continue
		}
		due = append(due, c)
	}
	return due, nil
}
