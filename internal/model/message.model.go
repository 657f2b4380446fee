package model

import (
	"time"
)

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusBounced   MessageStatus = "bounced"
	MessageStatusOptedOut  MessageStatus = "opted_out"
	MessageStatusCancelled MessageStatus = "cancelled"
)

// CountedStatuses are the statuses that consume rate limit quota.
var CountedStatuses = []MessageStatus{MessageStatusSent, MessageStatusDelivered}

// IsTerminal reports whether no automatic transition leaves the status.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case MessageStatusPending, MessageStatusSending:
		return false
	}
	return true
}

const (
	ReasonDeliveryTimeout = "delivery timeout"
	ReasonCampaignEnded   = "campaign ended"
	ReasonCampaignMissing = "campaign not found"
	ReasonOptedOut        = "recipient opted out"
)

type Message struct {
	ID                int64         `json:"id"`
	RecipientID       int64         `json:"recipient_id"`
	CampaignID        *int64        `json:"campaign_id"`
	Channel           Channel       `json:"channel"`
	TemplateID        string        `json:"template_id"`
	Address           string        `json:"address"`
	Subject           string        `json:"subject,omitempty"`
	Content           string        `json:"content"`
	Status            MessageStatus `json:"status"`
	FailureReason     string        `json:"failure_reason,omitempty"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	SentAt            *time.Time    `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time    `json:"delivered_at,omitempty"`
	FailedAt          *time.Time    `json:"failed_at,omitempty"`
}

// StatusUpdate carries the optional columns written with a status transition.
type StatusUpdate struct {
	Status            MessageStatus
	FailureReason     string
	ProviderMessageID string
	At                time.Time
}

// MessageFilter controls ListDue queries.
type MessageFilter struct {
	Statuses           []MessageStatus
	ExcludeCampaignIDs []int64
	CreatedBefore      *time.Time
	Limit              int
}

// CountScope narrows CountByStatusSince; a nil CampaignID counts globally.
type CountScope struct {
	CampaignID *int64
	Statuses   []MessageStatus
}
