package dao

import (
	"context"
	"time"

	"gorm.io/gorm"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/database"
)

type outboxDAO struct {
	db *database.Database
}

// NewOutboxDAO 创建发件箱DAO
func NewOutboxDAO(db *database.Database) OutboxDAO {
	return &outboxDAO{db: db}
}

func (d *outboxDAO) Due(ctx context.Context, nowMs int64, limit int) ([]*model.OutboxEntry, error) {
	var entries []*model.OutboxEntry
	err := d.db.WithContext(ctx).
		Where("status = ? AND next_attempt_ms <= ?", model.OutboxStatusPending, nowMs).
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Claim 同一条目只会被一个投递者领取
func (d *outboxDAO) Claim(ctx context.Context, entry *model.OutboxEntry, nowMs, leaseUntilMs int64) (bool, error) {
	result := d.db.WithContext(ctx).Model(&model.OutboxEntry{}).
		Where("id = ? AND status = ? AND attempts = ? AND next_attempt_ms <= ?",
			entry.ID, model.OutboxStatusPending, entry.Attempts, nowMs).
		Updates(map[string]interface{}{
			"attempts":        gorm.Expr("attempts + ?", 1),
			"next_attempt_ms": leaseUntilMs,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	entry.Attempts++
	entry.NextAttemptMs = leaseUntilMs
	return true, nil
}

func (d *outboxDAO) MarkDelivered(ctx context.Context, id int64, now time.Time) error {
	return d.db.WithContext(ctx).Model(&model.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.OutboxStatusDelivered,
			"delivered_at": now,
			"last_error":   "",
		}).Error
}

func (d *outboxDAO) Reschedule(ctx context.Context, id int64, nextAttemptMs int64, lastErr string, giveUp bool) error {
	status := model.OutboxStatusPending
	if giveUp {
		status = model.OutboxStatusFailed
	}
	return d.db.WithContext(ctx).Model(&model.OutboxEntry{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending).
		Updates(map[string]interface{}{
			"status":          status,
			"next_attempt_ms": nextAttemptMs,
			"last_error":      lastErr,
		}).Error
}

func (d *outboxDAO) ListByConfession(ctx context.Context, confessionID string) ([]*model.OutboxEntry, error) {
	var entries []*model.OutboxEntry
	err := d.db.WithContext(ctx).Where("confession_id = ?", confessionID).Order("id ASC").Find(&entries).Error
	return entries, err
}

func (d *outboxDAO) Purge(ctx context.Context, before time.Time) (int64, error) {
	result := d.db.WithContext(ctx).
		Where("status = ? AND delivered_at < ?", model.OutboxStatusDelivered, before).
		Delete(&model.OutboxEntry{})
	return result.RowsAffected, result.Error
}

// insertEffectsTx 副作用与业务数据同一事务写入。事务重试时重新分配id
func insertEffectsTx(tx *gorm.DB, effects []*model.OutboxEntry) error {
	if len(effects) == 0 {
		return nil
	}
	for _, e := range effects {
		e.ID = 0
		if e.Status == "" {
			e.Status = model.OutboxStatusPending
		}
	}
	return tx.Create(&effects).Error
}
