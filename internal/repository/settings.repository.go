package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingsRepository struct {
	*pg.DB
}

func NewSettingsRepository(db *pg.DB) *SettingsRepository {
	return &SettingsRepository{
		db,
	}
}

// Get returns the persisted overrides, nil when none were saved.
func (r *SettingsRepository) Get(ctx context.Context) (*model.Settings, error) {
	var entity SettingsEntity
	err := r.Read(ctx).Where("id = ?", settingsRowID).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toSettingsModel(&entity), nil
}

func (r *SettingsRepository) Save(ctx context.Context, s *model.Settings) error {
	return r.Write(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(toSettingsEntity(s)).Error
}
