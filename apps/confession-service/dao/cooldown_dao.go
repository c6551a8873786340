package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/database"
	"goim-confession/pkg/utils"
)

type sqlCooldownStore struct {
	db *database.Database
}

// NewSQLCooldownStore 关系库冷却存储，每个(用户, 动作)一行
func NewSQLCooldownStore(db *database.Database) CooldownStore {
	return &sqlCooldownStore{db: db}
}

func (s *sqlCooldownStore) LastAction(ctx context.Context, userID, kind string) (time.Time, bool, error) {
	var record model.CooldownRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND action_kind = ?", userID, kind).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return utils.FromUnixMs(record.LastActionMs), true, nil
}

// Touch 只更新该动作的行，其余动作不受影响
func (s *sqlCooldownStore) Touch(ctx context.Context, userID, kind string, at time.Time) error {
	return s.db.Transaction(ctx, func(tx *gorm.DB) error {
		return touchCooldownTx(tx, &model.CooldownRecord{
			UserID:       userID,
			ActionKind:   kind,
			LastActionMs: utils.ToUnixMs(at),
		})
	})
}

// touchCooldownTx 按(用户, 动作)upsert冷却时间
func touchCooldownTx(tx *gorm.DB, record *model.CooldownRecord) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "action_kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_action_ms"}),
	}).Create(record).Error
}
