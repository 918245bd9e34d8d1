package db

import (
	"shoppoller/internal/models"
)

// AutoMigrate creates the engine's tables. worlds and items are owned by the
// catalog ingestion pipeline; they are migrated here so a fresh database works.
func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.World{},
		&models.Item{},
		&models.ItemRank{},
		&models.BuyPrice{},
		&models.SellPrice{},
		&models.PollRun{},
	)
}
