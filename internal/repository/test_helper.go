package repository

import (
	"testing"

	"github.com/nimasrn/outreach-engine/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Entities lists every table the engine owns, in migration order.
func Entities() []interface{} {
	return []interface{}{
		&RecipientEntity{},
		&CampaignEntity{},
		&MessageEntity{},
		&OptOutEntity{},
		&SettingsEntity{},
	}
}

// OpenTestDB opens a migrated in-memory sqlite database behind a pg.DB. A
// single connection keeps every goroutine on the same in-memory database.
func OpenTestDB(t testing.TB) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(Entities()...))

	return pg.Wrap(db, db)
}
