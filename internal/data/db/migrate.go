package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/research-agent-backend/internal/data/docstore"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&docstore.Document{},
	)
}
