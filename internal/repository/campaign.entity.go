package repository

import (
	"time"

	"github.com/lib/pq"
	"github.com/nimasrn/outreach-engine/internal/model"
)

// CampaignEntity keeps target lists as postgres text[]; the gorm type is
// plain text so the same entity migrates on sqlite.
type CampaignEntity struct {
	ID                  int64          `db:"id"                    gorm:"primaryKey;autoIncrement;column:id"`
	Name                string         `db:"name"                  gorm:"column:name;not null"`
	Channel             string         `db:"channel"               gorm:"column:channel;not null"`
	TargetStates        pq.StringArray `db:"target_states"         gorm:"column:target_states;type:text"`
	TargetBusinessTypes pq.StringArray `db:"target_business_types" gorm:"column:target_business_types;type:text"`
	RegisteredFrom      *time.Time     `db:"registered_from"       gorm:"column:registered_from"`
	RegisteredTo        *time.Time     `db:"registered_to"         gorm:"column:registered_to"`
	DailyLimit          int            `db:"daily_limit"           gorm:"column:daily_limit;not null;default:0"`
	HourlyLimit         int            `db:"hourly_limit"          gorm:"column:hourly_limit;not null;default:0"`
	StartDate           *time.Time     `db:"start_date"            gorm:"column:start_date"`
	EndDate             *time.Time     `db:"end_date"              gorm:"column:end_date"`
	Active              bool           `db:"active"                gorm:"column:active;not null;default:false;index"`
	TemplateID          string         `db:"template_id"           gorm:"column:template_id;not null;default:''"`
	SequenceName        string         `db:"sequence_name"         gorm:"column:sequence_name;not null;default:''"`
	CooldownDays        int            `db:"cooldown_days"         gorm:"column:cooldown_days;not null;default:0"`
	SentCount           int64          `db:"sent_count"            gorm:"column:sent_count;not null;default:0"`
	FailedCount         int64          `db:"failed_count"          gorm:"column:failed_count;not null;default:0"`
	LastRunAt           *time.Time     `db:"last_run_at"           gorm:"column:last_run_at"`
	CreatedAt           time.Time      `db:"created_at"            gorm:"column:created_at;autoCreateTime"`
}

func (CampaignEntity) TableName() string {
	return "campaigns"
}

func toCampaignEntity(m *model.Campaign) *CampaignEntity {
	if m == nil {
		return nil
	}
	return &CampaignEntity{
		ID:                  m.ID,
		Name:                m.Name,
		Channel:             string(m.Channel),
		TargetStates:        pq.StringArray(m.TargetStates),
		TargetBusinessTypes: pq.StringArray(m.TargetBusinessTypes),
		RegisteredFrom:      m.RegisteredFrom,
		RegisteredTo:        m.RegisteredTo,
		DailyLimit:          m.DailyLimit,
		HourlyLimit:         m.HourlyLimit,
		StartDate:           m.StartDate,
		EndDate:             m.EndDate,
		Active:              m.Active,
		TemplateID:          m.TemplateID,
		SequenceName:        m.SequenceName,
		CooldownDays:        m.CooldownDays,
		SentCount:           m.SentCount,
		FailedCount:         m.FailedCount,
		LastRunAt:           m.LastRunAt,
		CreatedAt:           m.CreatedAt,
	}
}

func toCampaignModel(e *CampaignEntity) *model.Campaign {
	if e == nil {
		return nil
	}
	return &model.Campaign{
		ID:                  e.ID,
		Name:                e.Name,
		Channel:             model.Channel(e.Channel),
		TargetStates:        []string(e.TargetStates),
		TargetBusinessTypes: []string(e.TargetBusinessTypes),
		RegisteredFrom:      e.RegisteredFrom,
		RegisteredTo:        e.RegisteredTo,
		DailyLimit:          e.DailyLimit,
		HourlyLimit:         e.HourlyLimit,
		StartDate:           e.StartDate,
		EndDate:             e.EndDate,
		Active:              e.Active,
		TemplateID:          e.TemplateID,
		SequenceName:        e.SequenceName,
		CooldownDays:        e.CooldownDays,
		SentCount:           e.SentCount,
		FailedCount:         e.FailedCount,
		LastRunAt:           e.LastRunAt,
		CreatedAt:           e.CreatedAt,
	}
}

func toCampaignModels(entities []*CampaignEntity) []*model.Campaign {
	if entities == nil {
		return nil
	}
	models := make([]*model.Campaign, len(entities))
	for i, e := range entities {
		models[i] = toCampaignModel(e)
	}
	return models
}
