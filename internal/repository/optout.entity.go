package repository

import (
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
)

type OptOutEntity struct {
	ID          int64     `db:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	RecipientID *int64    `db:"recipient_id" gorm:"column:recipient_id;index"`
	Channel     string    `db:"channel"      gorm:"column:channel;not null"`
	Address     string    `db:"address"      gorm:"column:address;not null;default:'';index"`
	Reason      string    `db:"reason"       gorm:"column:reason;not null;default:''"`
	CreatedAt   time.Time `db:"created_at"   gorm:"column:created_at;autoCreateTime"`
}

func (OptOutEntity) TableName() string {
	return "opt_outs"
}

func toOptOutEntity(m *model.OptOut) *OptOutEntity {
	if m == nil {
		return nil
	}
	return &OptOutEntity{
		ID:          m.ID,
		RecipientID: m.RecipientID,
		Channel:     string(m.Channel),
		Address:     m.Address,
		Reason:      m.Reason,
		CreatedAt:   m.CreatedAt,
	}
}

func toOptOutModel(e *OptOutEntity) *model.OptOut {
	if e == nil {
		return nil
	}
	return &model.OptOut{
		ID:          e.ID,
		RecipientID: e.RecipientID,
		Channel:     model.Channel(e.Channel),
		Address:     e.Address,
		Reason:      e.Reason,
		CreatedAt:   e.CreatedAt,
	}
}
