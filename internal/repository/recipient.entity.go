package repository

import (
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
)

type RecipientEntity struct {
	ID               int64      `db:"id"                gorm:"primaryKey;autoIncrement;column:id"`
	Name             string     `db:"name"              gorm:"column:name;not null;default:''"`
	BusinessName     string     `db:"business_name"     gorm:"column:business_name;not null;default:''"`
	State            string     `db:"state"             gorm:"column:state;not null;default:'';index"`
	BusinessType     string     `db:"business_type"     gorm:"column:business_type;not null;default:'';index"`
	RegistrationDate *time.Time `db:"registration_date" gorm:"column:registration_date;index"`
	Phone            string     `db:"phone"             gorm:"column:phone;not null;default:''"`
	Email            string     `db:"email"             gorm:"column:email;not null;default:''"`
	Status           string     `db:"status"            gorm:"column:status;not null;default:'active';index"`
	CreatedAt        time.Time  `db:"created_at"        gorm:"column:created_at;autoCreateTime"`
}

func (RecipientEntity) TableName() string {
	return "recipients"
}

func toRecipientEntity(m *model.Recipient) *RecipientEntity {
	if m == nil {
		return nil
	}
	status := string(m.Status)
	if status == "" {
		status = string(model.RecipientStatusActive)
	}
	return &RecipientEntity{
		ID:               m.ID,
		Name:             m.Name,
		BusinessName:     m.BusinessName,
		State:            m.State,
		BusinessType:     m.BusinessType,
		RegistrationDate: m.RegistrationDate,
		Phone:            m.Phone,
		Email:            m.Email,
		Status:           status,
		CreatedAt:        m.CreatedAt,
	}
}

func toRecipientModel(e *RecipientEntity) *model.Recipient {
	if e == nil {
		return nil
	}
	return &model.Recipient{
		ID:               e.ID,
		Name:             e.Name,
		BusinessName:     e.BusinessName,
		State:            e.State,
		BusinessType:     e.BusinessType,
		RegistrationDate: e.RegistrationDate,
		Phone:            e.Phone,
		Email:            e.Email,
		Status:           model.RecipientStatus(e.Status),
		CreatedAt:        e.CreatedAt,
	}
}

func toRecipientModels(entities []*RecipientEntity) []*model.Recipient {
	if entities == nil {
		return nil
	}
	models := make([]*model.Recipient, len(entities))
	for i, e := range entities {
		models[i] = toRecipientModel(e)
	}
	return models
}
