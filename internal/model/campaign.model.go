package model

import (
	"errors"
	"time"

	"github.com/nimasrn/outreach-engine/pkg/validator"
)

// DefaultSequence is driven by campaigns that name neither a template nor a sequence.
const DefaultSequence = "default"

type Campaign struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"                  validate:"required,max=255"`
	Channel             Channel    `json:"channel"               validate:"required,oneof=sms email both"`
	TargetStates        []string   `json:"target_states"         validate:"dive,required"`
	TargetBusinessTypes []string   `json:"target_business_types" validate:"dive,required"`
	RegisteredFrom      *time.Time `json:"registered_from"`
	RegisteredTo        *time.Time `json:"registered_to"`
	DailyLimit          int        `json:"daily_limit"           validate:"min=1"`
	HourlyLimit         int        `json:"hourly_limit"          validate:"min=1"`
	StartDate           *time.Time `json:"start_date"`
	EndDate             *time.Time `json:"end_date"`
	Active              bool       `json:"active"`
	// TemplateID turns the campaign into a direct one: one message per
	// recipient for this template instead of a drip sequence.
	TemplateID   string `json:"template_id"`
	SequenceName string `json:"sequence_name"`
	// CooldownDays excludes recipients contacted within that many days,
	// direct campaigns only.
	CooldownDays int        `json:"cooldown_days" validate:"min=0"`
	SentCount    int64      `json:"sent_count"`
	FailedCount  int64      `json:"failed_count"`
	LastRunAt    *time.Time `json:"last_run_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (c *Campaign) Validate() error {
	if err := validator.Default().Struct(c); err != nil {
		return err
	}
	if c.StartDate != nil && c.EndDate != nil && c.EndDate.Before(*c.StartDate) {
		return errors.New("end_date must not be before start_date")
	}
	if c.RegisteredFrom != nil && c.RegisteredTo != nil && c.RegisteredTo.Before(*c.RegisteredFrom) {
		return errors.New("registered_to must not be before registered_from")
	}
	return nil
}

// IsRunning reports whether the campaign is active and now falls inside its window.
func (c *Campaign) IsRunning(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return false
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return false
	}
	return true
}

func (c *Campaign) IsDirect() bool {
	return c.TemplateID != ""
}

func (c *Campaign) Sequence() string {
	if c.SequenceName == "" {
		return DefaultSequence
	}
	return c.SequenceName
}
