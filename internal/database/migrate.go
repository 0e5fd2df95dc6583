package database

import (
	"github.com/pylonhq/pylon/internal/repository/connlog"
	"gorm.io/gorm"
)

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&connlog.SessionLogEntity{},
	)
}
