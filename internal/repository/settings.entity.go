package repository

import (
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
)

// settingsRowID pins scheduler_settings to a single row.
const settingsRowID = 1

type SettingsEntity struct {
	ID                int64     `db:"id"                  gorm:"primaryKey;column:id"`
	GlobalHourlyLimit int       `db:"global_hourly_limit" gorm:"column:global_hourly_limit;not null;default:0"`
	GlobalDailyLimit  int       `db:"global_daily_limit"  gorm:"column:global_daily_limit;not null;default:0"`
	DispatchDelayMs   int64     `db:"dispatch_delay_ms"   gorm:"column:dispatch_delay_ms;not null;default:0"`
	DispatchBatchSize int       `db:"dispatch_batch_size" gorm:"column:dispatch_batch_size;not null;default:0"`
	ReclaimTimeoutMs  int64     `db:"reclaim_timeout_ms"  gorm:"column:reclaim_timeout_ms;not null;default:0"`
	UpdatedAt         time.Time `db:"updated_at"          gorm:"column:updated_at;autoUpdateTime"`
}

func (SettingsEntity) TableName() string {
	return "scheduler_settings"
}

func toSettingsEntity(m *model.Settings) *SettingsEntity {
	return &SettingsEntity{
		ID:                settingsRowID,
		GlobalHourlyLimit: m.GlobalHourlyLimit,
		GlobalDailyLimit:  m.GlobalDailyLimit,
		DispatchDelayMs:   m.DispatchDelay.Milliseconds(),
		DispatchBatchSize: m.DispatchBatchSize,
		ReclaimTimeoutMs:  m.ReclaimTimeout.Milliseconds(),
		UpdatedAt:         m.UpdatedAt,
	}
}

func toSettingsModel(e *SettingsEntity) *model.Settings {
	return &model.Settings{
		GlobalHourlyLimit: e.GlobalHourlyLimit,
		GlobalDailyLimit:  e.GlobalDailyLimit,
		DispatchDelay:     time.Duration(e.DispatchDelayMs) * time.Millisecond,
		DispatchBatchSize: e.DispatchBatchSize,
		ReclaimTimeout:    time.Duration(e.ReclaimTimeoutMs) * time.Millisecond,
		UpdatedAt:         e.UpdatedAt,
	}
}
