package utils

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"leadflow/models"
)

// testDB opens an isolated in-memory database migrated with the full
// schema.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps every session on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Lead{},
		&models.LeadActivity{},
		&models.Template{},
		&models.Sequence{},
		&models.SequenceStep{},
		&models.SequenceRun{},
		&models.SequenceRunStep{},
		&models.Message{},
		&models.MessageEvent{},
	))
	return db
}
