package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/pkg/pg"
	"gorm.io/gorm"
)

type CampaignRepository struct {
	*pg.DB
}

func NewCampaignRepository(db *pg.DB) *CampaignRepository {
	return &CampaignRepository{
		db,
	}
}

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	entity := toCampaignEntity(c)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toCampaignModel(entity), nil
}

func (r *CampaignRepository) Get(ctx context.Context, id int64) (*model.Campaign, error) {
	var entity CampaignEntity
	err := r.Read(ctx).Where("id = ?", id).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toCampaignModel(&entity), nil
}

// GetMany loads campaigns by id; unknown ids are absent from the map.
func (r *CampaignRepository) GetMany(ctx context.Context, ids []int64) (map[int64]*model.Campaign, error) {
	out := make(map[int64]*model.Campaign, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var entities []*CampaignEntity
	if err := r.Read(ctx).Where("id IN ?", ids).Find(&entities).Error; err != nil {
		return nil, err
	}
	for _, e := range entities {
		out[e.ID] = toCampaignModel(e)
	}
	return out, nil
}

// ListActive returns campaigns with the active flag set, oldest first. The
// date window is checked by the caller against its own clock.
func (r *CampaignRepository) ListActive(ctx context.Context) ([]*model.Campaign, error) {
	var entities []*CampaignEntity
	err := r.Read(ctx).
		Where("active = ?", true).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toCampaignModels(entities), nil
}

func (r *CampaignRepository) SetActive(ctx context.Context, id int64, active bool) error {
	result := r.Write(ctx).Model(&CampaignEntity{}).Where("id = ?", id).Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementStats adds to the campaign counters in place so concurrent
// dispatchers never lose an update.
func (r *CampaignRepository) IncrementStats(ctx context.Context, id int64, sent, failed int) error {
	if sent == 0 && failed == 0 {
		return nil
	}
	return r.Write(ctx).Model(&CampaignEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sent_count":   gorm.Expr("sent_count + ?", sent),
			"failed_count": gorm.Expr("failed_count + ?", failed),
		}).Error
}

func (r *CampaignRepository) TouchLastRun(ctx context.Context, id int64, at time.Time) error {
	return r.Write(ctx).Model(&CampaignEntity{}).Where("id = ?", id).Update("last_run_at", at).Error
}
