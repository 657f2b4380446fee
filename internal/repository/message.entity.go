package repository

import (
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
)

// MessageEntity is unique on (recipient_id, campaign_id, template_id): a
// sequence step is generated at most once per recipient.
type MessageEntity struct {
	ID                int64      `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	RecipientID       int64      `db:"recipient_id"        gorm:"column:recipient_id;not null;uniqueIndex:ux_messages_step,priority:1"`
	CampaignID        *int64     `db:"campaign_id"         gorm:"column:campaign_id;uniqueIndex:ux_messages_step,priority:2"`
	TemplateID        string     `db:"template_id"         gorm:"column:template_id;not null;uniqueIndex:ux_messages_step,priority:3"`
	Channel           string     `db:"channel"             gorm:"column:channel;not null"`
	Address           string     `db:"address"             gorm:"column:address;not null;default:''"`
	Subject           string     `db:"subject"             gorm:"column:subject;not null;default:''"`
	Content           string     `db:"content"             gorm:"column:content;not null"`
	Status            string     `db:"status"              gorm:"column:status;not null;default:'pending';index:ix_messages_status_created,priority:1"`
	FailureReason     string     `db:"failure_reason"      gorm:"column:failure_reason;not null;default:''"`
	ProviderMessageID string     `db:"provider_message_id" gorm:"column:provider_message_id;not null;default:''"`
	CreatedAt         time.Time  `db:"created_at"          gorm:"column:created_at;autoCreateTime;index:ix_messages_status_created,priority:2"`
	UpdatedAt         time.Time  `db:"updated_at"          gorm:"column:updated_at;autoUpdateTime:false"`
	SentAt            *time.Time `db:"sent_at"             gorm:"column:sent_at;index"`
	DeliveredAt       *time.Time `db:"delivered_at"        gorm:"column:delivered_at"`
	FailedAt          *time.Time `db:"failed_at"           gorm:"column:failed_at"`
}

func (MessageEntity) TableName() string {
	return "messages"
}

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	status := string(m.Status)
	if status == "" {
		status = string(model.MessageStatusPending)
	}
	return &MessageEntity{
		ID:                m.ID,
		RecipientID:       m.RecipientID,
		CampaignID:        m.CampaignID,
		TemplateID:        m.TemplateID,
		Channel:           string(m.Channel),
		Address:           m.Address,
		Subject:           m.Subject,
		Content:           m.Content,
		Status:            status,
		FailureReason:     m.FailureReason,
		ProviderMessageID: m.ProviderMessageID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		SentAt:            m.SentAt,
		DeliveredAt:       m.DeliveredAt,
		FailedAt:          m.FailedAt,
	}
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	return &model.Message{
		ID:                e.ID,
		RecipientID:       e.RecipientID,
		CampaignID:        e.CampaignID,
		TemplateID:        e.TemplateID,
		Channel:           model.Channel(e.Channel),
		Address:           e.Address,
		Subject:           e.Subject,
		Content:           e.Content,
		Status:            model.MessageStatus(e.Status),
		FailureReason:     e.FailureReason,
		ProviderMessageID: e.ProviderMessageID,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
		SentAt:            e.SentAt,
		DeliveredAt:       e.DeliveredAt,
		FailedAt:          e.FailedAt,
	}
}

func toMessageModels(entities []*MessageEntity) []*model.Message {
	if entities == nil {
		return nil
	}
	models := make([]*model.Message, len(entities))
	for i, e := range entities {
		models[i] = toMessageModel(e)
	}
	return models
}
