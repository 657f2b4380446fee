package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStatusConflict is returned when a conditional status transition
	// finds the message in a status other than the expected ones.
	ErrStatusConflict = errors.New("message status changed concurrently")
)

type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{
		db,
	}
}

// CreateIfAbsent inserts msg unless a message with the same (recipient,
// campaign, template) already exists. The unique index decides, so two
// generators racing on one step still produce a single row.
func (r *MessageRepository) CreateIfAbsent(ctx context.Context, msg *model.Message) (bool, error) {
	entity := toMessageEntity(msg)
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now().UTC()
	}
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = entity.CreatedAt
	}

	result := r.Write(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entity)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	msg.ID = entity.ID
	msg.Status = model.MessageStatus(entity.Status)
	msg.CreatedAt = entity.CreatedAt
	msg.UpdatedAt = entity.UpdatedAt
	return true, nil
}

func (r *MessageRepository) Get(ctx context.Context, id int64) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).Where("id = ?", id).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toMessageModel(&entity), nil
}

// UpdateStatus moves message id to upd.Status only while it is in one of
// from. Zero rows affected means someone else moved it first.
func (r *MessageRepository) UpdateStatus(ctx context.Context, id int64, from []model.MessageStatus, upd model.StatusUpdate) error {
	at := upd.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	values := map[string]interface{}{
		"status":     string(upd.Status),
		"updated_at": at,
	}
	if upd.FailureReason != "" {
		values["failure_reason"] = upd.FailureReason
	}
	if upd.ProviderMessageID != "" {
		values["provider_message_id"] = upd.ProviderMessageID
	}
	switch upd.Status {
	case model.MessageStatusSent:
		values["sent_at"] = at
	case model.MessageStatusDelivered:
		values["delivered_at"] = at
	case model.MessageStatusFailed, model.MessageStatusBounced:
		values["failed_at"] = at
	}

	q := r.Write(ctx).Model(&MessageEntity{}).Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("status IN ?", statusStrings(from))
	}
	result := q.Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// CountByStatusSince counts messages in scope.Statuses whose sent_at is at
// or after since. This is the ground truth the rate counters reconcile to.
func (r *MessageRepository) CountByStatusSince(ctx context.Context, scope model.CountScope, since time.Time) (int64, error) {
	statuses := scope.Statuses
	if len(statuses) == 0 {
		statuses = model.CountedStatuses
	}

	q := r.Read(ctx).Model(&MessageEntity{}).
		Where("status IN ?", statusStrings(statuses)).
		Where("sent_at >= ?", since)
	if scope.CampaignID != nil {
		q = q.Where("campaign_id = ?", *scope.CampaignID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// ListDue returns pending work oldest first.
func (r *MessageRepository) ListDue(ctx context.Context, f model.MessageFilter) ([]*model.Message, error) {
	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = []model.MessageStatus{model.MessageStatusPending}
	}

	q := r.Read(ctx).Model(&MessageEntity{}).Where("status IN ?", statusStrings(statuses))
	if len(f.ExcludeCampaignIDs) > 0 {
		q = q.Where("(campaign_id IS NULL OR campaign_id NOT IN ?)", f.ExcludeCampaignIDs)
	}
	if f.CreatedBefore != nil {
		q = q.Where("created_at < ?", *f.CreatedBefore)
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	var entities []*MessageEntity
	if err := q.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&entities).Error; err != nil {
		return nil, err
	}
	return toMessageModels(entities), nil
}

// ExistingTemplateIDs returns the templates already generated for the
// recipient under the campaign, whatever their status.
func (r *MessageRepository) ExistingTemplateIDs(ctx context.Context, recipientID int64, campaignID *int64) (map[string]bool, error) {
	q := r.Read(ctx).Model(&MessageEntity{}).Where("recipient_id = ?", recipientID)
	if campaignID == nil {
		q = q.Where("campaign_id IS NULL")
	} else {
		q = q.Where("campaign_id = ?", *campaignID)
	}

	var ids []string
	if err := q.Pluck("template_id", &ids).Error; err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(ids))
	for _, id := range ids {
		existing[id] = true
	}
	return existing, nil
}

// ReclaimStuck fails every message that has been sending since before cutoff.
func (r *MessageRepository) ReclaimStuck(ctx context.Context, cutoff time.Time, reason string, at time.Time) (int64, error) {
	result := r.Write(ctx).Model(&MessageEntity{}).
		Where("status = ?", string(model.MessageStatusSending)).
		Where("updated_at < ?", cutoff).
		Updates(map[string]interface{}{
			"status":         string(model.MessageStatusFailed),
			"failure_reason": reason,
			"failed_at":      at,
			"updated_at":     at,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CountPendingOlderThan counts pending messages created before cutoff.
func (r *MessageRepository) CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	err := r.Read(ctx).Model(&MessageEntity{}).
		Where("status = ?", string(model.MessageStatusPending)).
		Where("created_at < ?", cutoff).
		Count(&total).Error
	return total, err
}

func (r *MessageRepository) PendingCountByCampaign(ctx context.Context, campaignID int64) (int64, error) {
	var total int64
	err := r.Read(ctx).Model(&MessageEntity{}).
		Where("status = ?", string(model.MessageStatusPending)).
		Where("campaign_id = ?", campaignID).
		Count(&total).Error
	return total, err
}

// List is used by tests and ops tooling to inspect messages.
func (r *MessageRepository) List(ctx context.Context, recipientID *int64, campaignID *int64) ([]*model.Message, error) {
	q := r.Read(ctx).Model(&MessageEntity{})
	if recipientID != nil {
		q = q.Where("recipient_id = ?", *recipientID)
	}
	if campaignID != nil {
		q = q.Where("campaign_id = ?", *campaignID)
	}

	var entities []*MessageEntity
	if err := q.Order("created_at ASC").Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	return toMessageModels(entities), nil
}

func statusStrings(statuses []model.MessageStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
