package model

import (
	"strconv"
	"time"
)

type RecipientStatus string

const (
	RecipientStatusActive    RecipientStatus = "active"
	RecipientStatusInactive  RecipientStatus = "inactive"
	RecipientStatusDuplicate RecipientStatus = "duplicate"
	RecipientStatusOptedOut  RecipientStatus = "opted_out"
	RecipientStatusInvalid   RecipientStatus = "invalid"
)

// Recipient is a contact record. Phone and Email are optional, an empty
// string means the channel is not available.
type Recipient struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	BusinessName     string          `json:"business_name"`
	State            string          `json:"state"`
	BusinessType     string          `json:"business_type"`
	RegistrationDate *time.Time      `json:"registration_date"`
	Phone            string          `json:"phone"`
	Email            string          `json:"email"`
	Status           RecipientStatus `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Address returns the contact value for ch, empty when the recipient has none.
func (r *Recipient) Address(ch Channel) string {
	switch ch {
	case ChannelSMS:
		return r.Phone
	case ChannelEmail:
		return r.Email
	}
	return ""
}

func (r *Recipient) HasChannel(ch Channel) bool {
	return r.Address(ch) != ""
}

// Fields exposes the recipient as template placeholders.
func (r *Recipient) Fields() map[string]string {
	fields := map[string]string{
		"id":            strconv.FormatInt(r.ID, 10),
		"name":          r.Name,
		"business_name": r.BusinessName,
		"state":         r.State,
		"business_type": r.BusinessType,
		"phone":         r.Phone,
		"email":         r.Email,
	}
	if r.RegistrationDate != nil {
		fields["registration_date"] = r.RegistrationDate.Format("2006-01-02")
	}
	return fields
}
