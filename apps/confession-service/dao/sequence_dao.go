package dao

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/database"
)

type sequenceDAO struct {
	db *database.Database
}

// NewSequenceDAO 创建序号计数器DAO
func NewSequenceDAO(db *database.Database) SequenceDAO {
	return &sequenceDAO{db: db}
}

// AllocateNext 独立事务中分配下一个序号
func (d *sequenceDAO) AllocateNext(ctx context.Context, now time.Time) (int64, error) {
	var next int64
	err := d.db.Transaction(ctx, func(tx *gorm.DB) error {
		n, err := allocateTx(tx, now)
		if err != nil {
			return err
		}
		next = n
		return nil
	})
	return next, err
}

// Current 当前计数值，计数器不存在时为0
func (d *sequenceDAO) Current(ctx context.Context) (int64, error) {
	var counter model.Counter
	err := d.db.WithContext(ctx).Where("name = ?", model.CounterConfession).Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return counter.SequenceValue, nil
}

// allocateTx 乐观读改写计数器，计数器被并发修改时返回ErrConflict
func allocateTx(tx *gorm.DB, now time.Time) (int64, error) {
	var counter model.Counter
	err := tx.Where("name = ?", model.CounterConfession).Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return bootstrapCounterTx(tx, now)
	}
	if err != nil {
		return 0, err
	}

	next := counter.SequenceValue + 1
	result := tx.Model(&model.Counter{}).
		Where("name = ? AND sequence_value = ?", model.CounterConfession, counter.SequenceValue).
		Updates(map[string]interface{}{
			"sequence_value":   next,
			"last_assigned_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, database.ErrConflict
	}
	return next, nil
}

// bootstrapCounterTx 首次分配：以已通过投稿的最大序号为起点创建计数器
func bootstrapCounterTx(tx *gorm.DB, now time.Time) (int64, error) {
	var maxNumber sql.NullInt64
	err := tx.Model(&model.Confession{}).
		Select("MAX(sequence_number)").
		Where("status = ?", model.ConfessionStatusApproved).
		Row().Scan(&maxNumber)
	if err != nil {
		return 0, err
	}

	next := maxNumber.Int64 + 1
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.Counter{
		Name:           model.CounterConfession,
		SequenceValue:  next,
		LastAssignedAt: now,
	})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, database.ErrConflict
	}
	return next, nil
}
