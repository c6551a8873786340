package dao

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/database"
)

type commentDAO struct {
	db *database.Database
}

// NewCommentDAO 创建评论DAO
func NewCommentDAO(db *database.Database) CommentDAO {
	return &commentDAO{db: db}
}

// AddComment 评论串计数、评论行、投稿计数、评论者计数在同一事务内变更
func (d *commentDAO) AddComment(ctx context.Context, comment *model.Comment, reputation int64, effects []*model.OutboxEntry) (int64, error) {
	var total int64
	err := d.db.Transaction(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&model.CommentThread{}).
			Where("confession_id = ?", comment.ConfessionID).
			UpdateColumn("total", gorm.Expr("total + ?", 1))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return &model.NotFoundError{Kind: "comment thread", ID: comment.ConfessionID}
		}

		if err := tx.Create(comment).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.Confession{}).
			Where("id = ?", comment.ConfessionID).
			UpdateColumn("comment_total", gorm.Expr("comment_total + ?", 1)).Error; err != nil {
			return err
		}

		if err := incrementUserStatTx(tx, comment.AuthorID, "comment_count", 1, comment.CreatedAt); err != nil {
			return err
		}
		if reputation != 0 {
			if err := incrementUserStatTx(tx, comment.AuthorID, "reputation", reputation, comment.CreatedAt); err != nil {
				return err
			}
		}

		var thread model.CommentThread
		if err := tx.Where("confession_id = ?", comment.ConfessionID).Take(&thread).Error; err != nil {
			return err
		}
		total = thread.Total
		return insertEffectsTx(tx, effects)
	})
	return total, err
}

func (d *commentDAO) GetComment(ctx context.Context, id int64) (*model.Comment, error) {
	var comment model.Comment
	err := d.db.WithContext(ctx).Where("id = ?", id).Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &model.NotFoundError{Kind: "comment", ID: formatInt(id)}
	}
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

func (d *commentDAO) GetThread(ctx context.Context, confessionID string) (*model.CommentThread, error) {
	var thread model.CommentThread
	err := d.db.WithContext(ctx).Where("confession_id = ?", confessionID).Take(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &model.NotFoundError{Kind: "comment thread", ID: confessionID}
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// ListComments 按时间升序分页
func (d *commentDAO) ListComments(ctx context.Context, confessionID string, page, pageSize int) ([]*model.Comment, int64, error) {
	query := d.db.WithContext(ctx).Model(&model.Comment{}).Where("confession_id = ?", confessionID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := normalizePage(page, pageSize)
	var comments []*model.Comment
	err := query.Order("created_at ASC, id ASC").Offset(offset).Limit(limit).Find(&comments).Error
	return comments, total, err
}
