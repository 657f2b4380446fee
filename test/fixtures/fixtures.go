package fixtures

import (
	"fmt"
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
)

// NewRecipient builds an active recipient registered daysAgo days before
// now; a negative daysAgo leaves the registration date unset.
func NewRecipient(name string, now time.Time, daysAgo int, phone, email string) *model.Recipient {
	var registered *time.Time
	if daysAgo >= 0 {
		d := now.AddDate(0, 0, -daysAgo)
		registered = &d
	}
	return &model.Recipient{
		Name:             name,
		BusinessName:     name + " LLC",
		State:            "TX",
		BusinessType:     "llc",
		RegistrationDate: registered,
		Phone:            phone,
		Email:            email,
		Status:           model.RecipientStatusActive,
	}
}

// Phone returns a distinct test number for i.
func Phone(i int) string {
	return fmt.Sprintf("+1555%07d", i)
}

// Email returns a distinct test address for i.
func Email(i int) string {
	return fmt.Sprintf("owner%d@biz.test", i)
}

// NewSequenceCampaign runs the default onboarding sequence on channel.
func NewSequenceCampaign(name string, channel model.Channel, daily, hourly int) *model.Campaign {
	return &model.Campaign{
		Name:        name,
		Channel:     channel,
		DailyLimit:  daily,
		HourlyLimit: hourly,
		Active:      true,
	}
}

// NewDirectCampaign sends one template to every targeted recipient once.
func NewDirectCampaign(name string, channel model.Channel, templateID string, daily, hourly int) *model.Campaign {
	c := NewSequenceCampaign(name, channel, daily, hourly)
	c.TemplateID = templateID
	return c
}

// NewPendingMessage is a rendered message waiting for dispatch.
func NewPendingMessage(recipientID int64, campaignID *int64, templateID string, channel model.Channel, address string, createdAt time.Time) *model.Message {
	return &model.Message{
		RecipientID: recipientID,
		CampaignID:  campaignID,
		TemplateID:  templateID,
		Channel:     channel,
		Address:     address,
		Content:     "hello from " + templateID,
		Status:      model.MessageStatusPending,
		CreatedAt:   createdAt,
	}
}
