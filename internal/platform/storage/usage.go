package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shopimage-server-go/internal/platform/errors"
)

// UsageRecord is a persisted snapshot of one identity's quota counters.
// The live counters stay in memory; snapshots let usage survive restarts.
type UsageRecord struct {
	ID         uint      `gorm:"primaryKey"`
	Identity   string    `gorm:"uniqueIndex;not null"`
	Plan       string    `gorm:"not null"`
	Day        string    `gorm:"not null"` // UTC date, e.g. 2026-08-31
	DayCount   uint64    `gorm:"not null"`
	Month      string    `gorm:"not null"` // UTC month, e.g. 2026-08
	MonthCount uint64    `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// UsageRepository persists and restores quota usage snapshots.
type UsageRepository interface {
	SaveAll(ctx context.Context, records []UsageRecord) error
	LoadAll(ctx context.Context) ([]UsageRecord, error)
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a usage snapshot repository backed by db.
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

// SaveAll upserts the given snapshots keyed by identity.
func (r *usageRepository) SaveAll(ctx context.Context, records []UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "identity"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan", "day", "day_count", "month", "month_count", "updated_at",
		}),
	}).Create(&records).Error
	if err != nil {
		return errors.Wrap(errors.KindStorage, "usage.save_all", "failed to save usage snapshots", err)
	}
	return nil
}

func (r *usageRepository) LoadAll(ctx context.Context) ([]UsageRecord, error) {
	var records []UsageRecord
	if err := r.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "usage.load_all", "failed to load usage snapshots", err)
	}
	return records, nil
}

// DeleteStale removes snapshots not touched since before. Idle identities
// are reaped the same way the in-memory ledger evicts them.
func (r *usageRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("updated_at < ?", before).
		Delete(&UsageRecord{})
	if res.Error != nil {
		return 0, errors.Wrap(errors.KindStorage, "usage.delete_stale", "failed to delete stale snapshots", res.Error)
	}
	return res.RowsAffected, nil
}
