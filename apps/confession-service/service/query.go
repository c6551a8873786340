package service

import (
	"context"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/telemetry"
	"goim-confession/pkg/utils"
)

// GetConfession 按ID获取投稿
func (s *Service) GetConfession(ctx context.Context, id string) (*model.Confession, error) {
	return s.repos.Confessions.GetConfession(ctx, id)
}

// GetConfessionByNumber 按公开序号获取投稿
func (s *Service) GetConfessionByNumber(ctx context.Context, number int64) (*model.Confession, error) {
	if number <= 0 {
		return nil, &model.ValidationError{Field: "number", Reason: "must be positive"}
	}
	return s.repos.Confessions.GetConfessionByNumber(ctx, number)
}

// ListPending 待审核队列，先提交的在前
func (s *Service) ListPending(ctx context.Context, page, pageSize int) ([]*model.Confession, int64, error) {
	return s.repos.Confessions.ListPending(ctx, page, pageSize)
}

// ListByHashtag 按话题查询已发布投稿
func (s *Service) ListByHashtag(ctx context.Context, tag string, page, pageSize int) ([]*model.Confession, int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "confession.service.ListByHashtag")
	defer span.End()

	normalized, err := normalizeHashtag(tag)
	if err != nil {
		return nil, 0, err
	}
	return s.repos.Confessions.ListByHashtag(ctx, normalized, page, pageSize)
}

// ListComments 评论列表，按时间升序
func (s *Service) ListComments(ctx context.Context, confessionID string, page, pageSize int) ([]*model.Comment, int64, error) {
	return s.repos.Comments.ListComments(ctx, confessionID, page, pageSize)
}

// GetUserStats 用户计数
func (s *Service) GetUserStats(ctx context.Context, userID string) (*model.UserStats, error) {
	return s.repos.Users.GetStats(ctx, userID)
}

// GetModerationLogs 审核日志
func (s *Service) GetModerationLogs(ctx context.Context, confessionID string) ([]*model.ConfessionModerationLog, error) {
	return s.repos.Confessions.GetModerationLogs(ctx, confessionID)
}

// CheckCooldown 查询投稿冷却，不产生写入
func (s *Service) CheckCooldown(ctx context.Context, userID string) (*model.ThrottleStatus, error) {
	allowed, wait, err := s.cooldown.IsAllowed(ctx, userID, model.ActionConfession, s.opts.ConfessionCooldown)
	if err != nil {
		return nil, err
	}
	return &model.ThrottleStatus{Allowed: allowed, RemainingSeconds: utils.CeilSeconds(wait)}, nil
}

// CheckRateLimit 查询评论限流，不产生写入
func (s *Service) CheckRateLimit(ctx context.Context, userID string) (*model.ThrottleStatus, error) {
	allowed, wait, err := s.limiter.IsAllowed(ctx, userID, s.opts.CommentWindow, s.opts.CommentMaxCount)
	if err != nil {
		return nil, err
	}
	return &model.ThrottleStatus{Allowed: allowed, RemainingSeconds: utils.CeilSeconds(wait)}, nil
}
