package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/pkg/pg"
	"gorm.io/gorm"
)

// Scope narrows a recipient query; the targeting filter builds them.
type Scope = func(*gorm.DB) *gorm.DB

type RecipientRepository struct {
	*pg.DB
}

func NewRecipientRepository(db *pg.DB) *RecipientRepository {
	return &RecipientRepository{
		db,
	}
}

func (r *RecipientRepository) Create(ctx context.Context, rec *model.Recipient) (*model.Recipient, error) {
	entity := toRecipientEntity(rec)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toRecipientModel(entity), nil
}

func (r *RecipientRepository) Get(ctx context.Context, id int64) (*model.Recipient, error) {
	var entity RecipientEntity
	err := r.Read(ctx).Where("id = ?", id).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toRecipientModel(&entity), nil
}

func (r *RecipientRepository) GetMany(ctx context.Context, ids []int64) (map[int64]*model.Recipient, error) {
	out := make(map[int64]*model.Recipient, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var entities []*RecipientEntity
	if err := r.Read(ctx).Where("id IN ?", ids).Find(&entities).Error; err != nil {
		return nil, err
	}
	for _, e := range entities {
		out[e.ID] = toRecipientModel(e)
	}
	return out, nil
}

// Find runs the scopes against the recipients table. Ordering and paging
// are part of the scopes.
func (r *RecipientRepository) Find(ctx context.Context, scopes ...Scope) ([]*model.Recipient, error) {
	var entities []*RecipientEntity
	if err := r.Read(ctx).Model(&RecipientEntity{}).Scopes(scopes...).Find(&entities).Error; err != nil {
		return nil, err
	}
	return toRecipientModels(entities), nil
}

func (r *RecipientRepository) Count(ctx context.Context, scopes ...Scope) (int64, error) {
	var total int64
	err := r.Read(ctx).Model(&RecipientEntity{}).Scopes(scopes...).Count(&total).Error
	return total, err
}
