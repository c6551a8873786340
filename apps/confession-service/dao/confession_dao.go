package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/database"
)

type confessionDAO struct {
	db *database.Database
}

// NewConfessionDAO 创建投稿DAO
func NewConfessionDAO(db *database.Database) ConfessionDAO {
	return &confessionDAO{db: db}
}

// CreateConfession 写入待审核投稿并累加作者投稿数
func (d *confessionDAO) CreateConfession(ctx context.Context, confession *model.Confession, cooldown *model.CooldownRecord, effects []*model.OutboxEntry) error {
	return d.db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(confession).Error; err != nil {
			return err
		}
		if err := incrementUserStatTx(tx, confession.AuthorID, "confession_count", 1, confession.CreatedAt); err != nil {
			return err
		}
		if cooldown != nil {
			if err := touchCooldownTx(tx, cooldown); err != nil {
				return err
			}
		}
		return insertEffectsTx(tx, effects)
	})
}

func (d *confessionDAO) GetConfession(ctx context.Context, id string) (*model.Confession, error) {
	return getConfessionTx(d.db.WithContext(ctx), id)
}

func (d *confessionDAO) GetConfessionByNumber(ctx context.Context, number int64) (*model.Confession, error) {
	var confession model.Confession
	err := d.db.WithContext(ctx).Where("sequence_number = ?", number).Take(&confession).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &model.NotFoundError{Kind: "confession", ID: "#" + formatInt(number)}
	}
	if err != nil {
		return nil, err
	}
	return &confession, nil
}

// ListPending 审核队列，先到先审
func (d *confessionDAO) ListPending(ctx context.Context, page, pageSize int) ([]*model.Confession, int64, error) {
	query := d.db.WithContext(ctx).Model(&model.Confession{}).
		Where("status = ?", model.ConfessionStatusPending)
	return d.list(query, "created_at ASC, id ASC", page, pageSize)
}

// ListByHashtag 按话题查询已发布投稿，新的在前
func (d *confessionDAO) ListByHashtag(ctx context.Context, tag string, page, pageSize int) ([]*model.Confession, int64, error) {
	pattern := `%"` + escapeLike(tag) + `"%`
	query := d.db.WithContext(ctx).Model(&model.Confession{}).
		Where("status = ? AND hashtags LIKE ? ESCAPE '\\'", model.ConfessionStatusApproved, pattern)
	return d.list(query, "sequence_number DESC", page, pageSize)
}

func (d *confessionDAO) list(query *gorm.DB, order string, page, pageSize int) ([]*model.Confession, int64, error) {
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := normalizePage(page, pageSize)
	var confessions []*model.Confession
	if err := query.Order(order).Offset(offset).Limit(limit).Find(&confessions).Error; err != nil {
		return nil, 0, err
	}
	return confessions, total, nil
}

// ApproveConfession 审核通过。序号分配、状态转换、评论串创建、作者声望在同一事务内，任何一步失败都不会消耗序号
func (d *confessionDAO) ApproveConfession(ctx context.Context, id, moderatorID string, reputation int64, now time.Time, effects []*model.OutboxEntry) (*model.Confession, int64, error) {
	var (
		approved *model.Confession
		number   int64
	)
	err := d.db.Transaction(ctx, func(tx *gorm.DB) error {
		confession, err := getConfessionTx(tx, id)
		if err != nil {
			return err
		}
		if confession.Status != model.ConfessionStatusPending {
			return &model.InvalidStateError{ID: id, Status: confession.Status}
		}

		n, err := allocateTx(tx, now)
		if err != nil {
			return err
		}

		if err := transitionTx(tx, id, map[string]interface{}{
			"status":          model.ConfessionStatusApproved,
			"sequence_number": n,
			"decided_at":      now,
		}); err != nil {
			return err
		}

		if err := tx.Create(&model.CommentThread{ConfessionID: id, Total: 0, CreatedAt: now}).Error; err != nil {
			return err
		}
		if err := createModerationLogTx(tx, id, moderatorID, model.ConfessionStatusApproved, "", now); err != nil {
			return err
		}
		if reputation != 0 {
			if err := incrementUserStatTx(tx, confession.AuthorID, "reputation", reputation, now); err != nil {
				return err
			}
		}
		if err := insertEffectsTx(tx, effects); err != nil {
			return err
		}

		confession.Status = model.ConfessionStatusApproved
		confession.SequenceNumber = &n
		confession.DecidedAt = &now
		approved, number = confession, n
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return approved, number, nil
}

// RejectConfession 拒绝投稿，不涉及序号
func (d *confessionDAO) RejectConfession(ctx context.Context, id, moderatorID, reason string, now time.Time, effects []*model.OutboxEntry) (*model.Confession, error) {
	var rejected *model.Confession
	err := d.db.Transaction(ctx, func(tx *gorm.DB) error {
		confession, err := getConfessionTx(tx, id)
		if err != nil {
			return err
		}
		if confession.Status != model.ConfessionStatusPending {
			return &model.InvalidStateError{ID: id, Status: confession.Status}
		}

		if err := transitionTx(tx, id, map[string]interface{}{
			"status":           model.ConfessionStatusRejected,
			"rejection_reason": reason,
			"decided_at":       now,
		}); err != nil {
			return err
		}
		if err := createModerationLogTx(tx, id, moderatorID, model.ConfessionStatusRejected, reason, now); err != nil {
			return err
		}
		if err := insertEffectsTx(tx, effects); err != nil {
			return err
		}

		confession.Status = model.ConfessionStatusRejected
		confession.RejectionReason = &reason
		confession.DecidedAt = &now
		rejected = confession
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

func (d *confessionDAO) SetChannelMessageID(ctx context.Context, id, handle string) error {
	return d.db.WithContext(ctx).Model(&model.Confession{}).
		Where("id = ?", id).
		UpdateColumn("channel_message_id", handle).Error
}

func (d *confessionDAO) GetModerationLogs(ctx context.Context, id string) ([]*model.ConfessionModerationLog, error) {
	var logs []*model.ConfessionModerationLog
	err := d.db.WithContext(ctx).Where("confession_id = ?", id).Order("id ASC").Find(&logs).Error
	return logs, err
}

func getConfessionTx(tx *gorm.DB, id string) (*model.Confession, error) {
	var confession model.Confession
	err := tx.Where("id = ?", id).Take(&confession).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &model.NotFoundError{Kind: "confession", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &confession, nil
}

// transitionTx 仅当投稿仍为pending时更新，否则返回InvalidStateError
func transitionTx(tx *gorm.DB, id string, updates map[string]interface{}) error {
	result := tx.Model(&model.Confession{}).
		Where("id = ? AND status = ?", id, model.ConfessionStatusPending).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	current, err := getConfessionTx(tx, id)
	if err != nil {
		return err
	}
	return &model.InvalidStateError{ID: id, Status: current.Status}
}

func createModerationLogTx(tx *gorm.DB, id, moderatorID, newStatus, reason string, now time.Time) error {
	return tx.Create(&model.ConfessionModerationLog{
		ConfessionID: id,
		ModeratorID:  moderatorID,
		OldStatus:    model.ConfessionStatusPending,
		NewStatus:    newStatus,
		Reason:       reason,
		CreatedAt:    now,
	}).Error
}
