package targeting

import (
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
	"gorm.io/gorm"
)

// Scope is one conjunctive condition on the recipients table.
type Scope = func(*gorm.DB) *gorm.DB

const optOutMatch = `opt_outs.recipient_id = recipients.id OR (opt_outs.address <> '' AND opt_outs.address IN (recipients.phone, recipients.email))`

func activeOnly() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("recipients.status = ?", string(model.RecipientStatusActive))
	}
}

// excludeOptedOut drops recipients opted out of every channel, and when a
// single channel is targeted, those opted out of that channel.
func excludeOptedOut(ch model.Channel) Scope {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("NOT EXISTS (SELECT 1 FROM opt_outs WHERE opt_outs.channel = ? AND ("+optOutMatch+"))", string(model.ChannelAll))
		switch ch {
		case model.ChannelSMS:
			db = db.Where("NOT EXISTS (SELECT 1 FROM opt_outs WHERE opt_outs.channel = ? AND (opt_outs.recipient_id = recipients.id OR (opt_outs.address <> '' AND opt_outs.address = recipients.phone)))", string(ch))
		case model.ChannelEmail:
			db = db.Where("NOT EXISTS (SELECT 1 FROM opt_outs WHERE opt_outs.channel = ? AND (opt_outs.recipient_id = recipients.id OR (opt_outs.address <> '' AND opt_outs.address = recipients.email)))", string(ch))
		case model.ChannelBoth:
			db = db.Where("NOT (EXISTS (SELECT 1 FROM opt_outs WHERE opt_outs.channel = ? AND (opt_outs.recipient_id = recipients.id OR (opt_outs.address <> '' AND opt_outs.address = recipients.phone))) AND EXISTS (SELECT 1 FROM opt_outs WHERE opt_outs.channel = ? AND (opt_outs.recipient_id = recipients.id OR (opt_outs.address <> '' AND opt_outs.address = recipients.email))))",
				string(model.ChannelSMS), string(model.ChannelEmail))
		}
		return db
	}
}

func InStates(states []string) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("recipients.state IN ?", states)
	}
}

func InBusinessTypes(types []string) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("recipients.business_type IN ?", types)
	}
}

// RegisteredBetween bounds registration_date; either end may be nil.
func RegisteredBetween(from, to *time.Time) Scope {
	return func(db *gorm.DB) *gorm.DB {
		if from != nil {
			db = db.Where("recipients.registration_date >= ?", *from)
		}
		if to != nil {
			db = db.Where("recipients.registration_date <= ?", *to)
		}
		return db
	}
}

func HasRegistrationDate() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("recipients.registration_date IS NOT NULL")
	}
}

// HasChannel requires a contact value for ch; for ChannelBoth either one is enough.
func HasChannel(ch model.Channel) Scope {
	return func(db *gorm.DB) *gorm.DB {
		switch ch {
		case model.ChannelSMS:
			return db.Where("recipients.phone <> ''")
		case model.ChannelEmail:
			return db.Where("recipients.email <> ''")
		default:
			return db.Where("(recipients.phone <> '' OR recipients.email <> '')")
		}
	}
}

// NotContactedSince drops recipients with any message sent at or after since.
func NotContactedSince(since time.Time) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("NOT EXISTS (SELECT 1 FROM messages WHERE messages.recipient_id = recipients.id AND messages.sent_at >= ?)", since)
	}
}

// NotInCampaign drops recipients that already have any message for the campaign.
func NotInCampaign(campaignID int64) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("NOT EXISTS (SELECT 1 FROM messages WHERE messages.recipient_id = recipients.id AND messages.campaign_id = ?)", campaignID)
	}
}

// oldestFirst orders by registration date, undated recipients last, id as tie breaker.
func oldestFirst() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.
			Order("CASE WHEN recipients.registration_date IS NULL THEN 1 ELSE 0 END").
			Order("recipients.registration_date ASC").
			Order("recipients.id ASC")
	}
}

func paginate(p Page) Scope {
	return func(db *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 || limit > MaxPageSize {
			limit = DefaultPageSize
		}
		offset := p.Offset
		if offset < 0 {
			offset = 0
		}
		return db.Limit(limit).Offset(offset)
	}
}
