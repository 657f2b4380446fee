package repository

import (
	"context"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/pkg/pg"
)

type OptOutRepository struct {
	*pg.DB
}

func NewOptOutRepository(db *pg.DB) *OptOutRepository {
	return &OptOutRepository{
		db,
	}
}

func (r *OptOutRepository) Create(ctx context.Context, o *model.OptOut) (*model.OptOut, error) {
	entity := toOptOutEntity(o)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toOptOutModel(entity), nil
}

// BlockedChannels returns the channels the recipient may not be contacted
// on. An opt-out matches by recipient id or by one of the recipient's
// addresses; a ChannelAll entry blocks both channels.
func (r *OptOutRepository) BlockedChannels(ctx context.Context, rec *model.Recipient) (map[model.Channel]bool, error) {
	q := r.Read(ctx).Model(&OptOutEntity{}).Where("recipient_id = ?", rec.ID)
	addresses := make([]string, 0, 2)
	if rec.Phone != "" {
		addresses = append(addresses, rec.Phone)
	}
	if rec.Email != "" {
		addresses = append(addresses, rec.Email)
	}
	if len(addresses) > 0 {
		q = q.Or("address IN ?", addresses)
	}

	var entities []*OptOutEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, err
	}

	blocked := make(map[model.Channel]bool, 2)
	for _, e := range entities {
		ch := model.Channel(e.Channel)
		if ch == model.ChannelAll {
			blocked[model.ChannelSMS] = true
			blocked[model.ChannelEmail] = true
			continue
		}
		byRecipient := e.RecipientID != nil && *e.RecipientID == rec.ID
		// an address only blocks the channel it belongs to
		if byRecipient || (e.Address != "" && rec.Address(ch) == e.Address) {
			blocked[ch] = true
		}
	}
	return blocked, nil
}

// IsBlocked reports whether the recipient may not be contacted on ch at address.
func (r *OptOutRepository) IsBlocked(ctx context.Context, recipientID int64, ch model.Channel, address string) (bool, error) {
	q := r.Read(ctx).Model(&OptOutEntity{}).
		Where("channel IN ?", []string{string(ch), string(model.ChannelAll)})
	if address != "" {
		q = q.Where("(recipient_id = ? OR address = ?)", recipientID, address)
	} else {
		q = q.Where("recipient_id = ?", recipientID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return false, err
	}
	return total > 0, nil
}
