package storage

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"shopimage-server-go/internal/platform/errors"
)

// OpenDatabase opens (creating if needed) the SQLite database at dsn and
// migrates the persistence models.
func OpenDatabase(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New(errors.KindStorage, "db.open", "database dsn is empty")
	}
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(errors.KindStorage, "db.open", "failed to create database directory", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "db.open", "failed to open database", err)
	}

	if err := db.AutoMigrate(&UsageRecord{}); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "db.migrate", "failed to migrate schema", err)
	}
	return db, nil
}
