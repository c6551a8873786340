package dao

import (
	"context"
	"time"

	"gorm.io/gorm"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/database"
	"goim-confession/pkg/utils"
)

type sqlRateWindowStore struct {
	db *database.Database
}

// NewSQLRateWindowStore 关系库限流窗口，每次动作一行
func NewSQLRateWindowStore(db *database.Database) RateWindowStore {
	return &sqlRateWindowStore{db: db}
}

// Append 仅插入，多端并发追加互不覆盖
func (s *sqlRateWindowStore) Append(ctx context.Context, userID, action string, at time.Time) error {
	return s.db.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(&model.RateWindowEntry{UserID: userID, Action: action, AtMs: utils.ToUnixMs(at)}).Error
	})
}

func (s *sqlRateWindowStore) Since(ctx context.Context, userID, action string, since time.Time) ([]time.Time, error) {
	var stamps []int64
	err := s.db.WithContext(ctx).Model(&model.RateWindowEntry{}).
		Where("user_id = ? AND action = ? AND at_ms > ?", userID, action, utils.ToUnixMs(since)).
		Order("at_ms ASC").
		Pluck("at_ms", &stamps).Error
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, len(stamps))
	for _, ms := range stamps {
		out = append(out, utils.FromUnixMs(ms))
	}
	return out, nil
}

func (s *sqlRateWindowStore) Compact(ctx context.Context, userID, action string, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND action = ? AND at_ms <= ?", userID, action, utils.ToUnixMs(before)).
		Delete(&model.RateWindowEntry{})
	return result.RowsAffected, result.Error
}

func (s *sqlRateWindowStore) CompactAll(ctx context.Context, action string, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("action = ? AND at_ms <= ?", action, utils.ToUnixMs(before)).
		Delete(&model.RateWindowEntry{})
	return result.RowsAffected, result.Error
}
