package model

import "time"

// OptOut blocks a recipient, an address or both on one channel or on all.
type OptOut struct {
	ID          int64     `json:"id"`
	RecipientID *int64    `json:"recipient_id"`
	Channel     Channel   `json:"channel"`
	Address     string    `json:"address"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}
