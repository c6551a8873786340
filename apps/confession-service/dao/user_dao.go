package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/database"
)

type userDAO struct {
	db *database.Database
}

// NewUserDAO 创建用户计数DAO
func NewUserDAO(db *database.Database) UserDAO {
	return &userDAO{db: db}
}

// GetStats 用户不存在时返回零值计数
func (d *userDAO) GetStats(ctx context.Context, userID string) (*model.UserStats, error) {
	var stats model.UserStats
	err := d.db.WithContext(ctx).Where("user_id = ?", userID).Take(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.UserStats{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (d *userDAO) AddReputation(ctx context.Context, userID string, delta int64, now time.Time) error {
	return incrementUserStatTx(d.db.WithContext(ctx), userID, "reputation", delta, now)
}

func (d *userDAO) IncrementCommentCount(ctx context.Context, userID string, now time.Time) error {
	return incrementUserStatTx(d.db.WithContext(ctx), userID, "comment_count", 1, now)
}

// SetBlocked 设置屏蔽标记，用户行不存在时创建
func (d *userDAO) SetBlocked(ctx context.Context, userID string, blocked bool, now time.Time) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"blocked": blocked, "updated_at": now}),
	}).Create(&model.UserStats{UserID: userID, Blocked: blocked, UpdatedAt: now}).Error
}

func (d *userDAO) IsBlocked(ctx context.Context, userID string) (bool, error) {
	var blocked []bool
	err := d.db.WithContext(ctx).Model(&model.UserStats{}).
		Where("user_id = ?", userID).
		Limit(1).
		Pluck("blocked", &blocked).Error
	if err != nil {
		return false, err
	}
	return len(blocked) > 0 && blocked[0], nil
}

func (d *userDAO) ListRecipients(ctx context.Context, afterUserID string, limit int) ([]string, error) {
	var ids []string
	err := d.db.WithContext(ctx).Model(&model.UserStats{}).
		Where("blocked = ? AND user_id > ?", false, afterUserID).
		Order("user_id ASC").
		Limit(limit).
		Pluck("user_id", &ids).Error
	return ids, err
}

// incrementUserStatTx 按字段累加用户计数，行不存在时以delta创建
func incrementUserStatTx(tx *gorm.DB, userID, field string, delta int64, now time.Time) error {
	row := &model.UserStats{UserID: userID, UpdatedAt: now}
	switch field {
	case "reputation":
		row.Reputation = delta
	case "confession_count":
		row.ConfessionCount = delta
	case "comment_count":
		row.CommentCount = delta
	default:
		return fmt.Errorf("unknown user stat %q", field)
	}

	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			field:        gorm.Expr("user_stats."+field+" + ?", delta),
			"updated_at": now,
		}),
	}).Create(row).Error
}
