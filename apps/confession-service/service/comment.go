package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"goim-confession/apps/confession-service/model"
	tracecontext "goim-confession/pkg/context"
	"goim-confession/pkg/logger"
	"goim-confession/pkg/telemetry"
)

// AddComment 为已通过的投稿添加评论，评论串、投稿、评论者的计数在同一事务内累加
func (s *Service) AddComment(ctx context.Context, confessionID, authorID, rawText string) (*model.Comment, error) {
	ctx, span := telemetry.StartSpan(ctx, "confession.service.AddComment",
		attribute.String("confession.id", confessionID))
	defer span.End()
	ctx = tracecontext.WithUserID(ctx, authorID)
	ctx = tracecontext.WithConfessionID(ctx, confessionID)

	if authorID == "" {
		err := &model.ValidationError{Field: "author_id", Reason: "required"}
		fail(span, err, "invalid parameters")
		return nil, err
	}

	blocked, err := s.repos.Users.IsBlocked(ctx, authorID)
	if err != nil {
		fail(span, err, "check blocked failed")
		return nil, err
	}
	if blocked {
		err := &model.ForbiddenError{Reason: "user is blocked"}
		fail(span, err, "user blocked")
		return nil, err
	}

	allowed, wait, err := s.limiter.IsAllowed(ctx, authorID, s.opts.CommentWindow, s.opts.CommentMaxCount)
	if err != nil {
		fail(span, err, "rate window read failed")
		return nil, err
	}
	if !allowed {
		s.metrics.ThrottleRejects.WithLabelValues(model.ActionComment).Inc()
		err := &model.RateLimitedError{Action: model.ActionComment, RetryAfter: wait}
		fail(span, err, "rate limited")
		return nil, err
	}

	text := sanitizeText(rawText)
	if err := checkLength("text", text, s.opts.CommentMinLength, s.opts.CommentMaxLength); err != nil {
		fail(span, err, "invalid parameters")
		return nil, err
	}

	now := s.clock.Now()
	comment := &model.Comment{
		ID:           s.ids.Generate(),
		ConfessionID: confessionID,
		AuthorID:     authorID,
		Text:         text,
		CreatedAt:    now,
	}
	// 通知作者、更新频道帖子的评论数
	effects := []*model.OutboxEntry{
		newEffect(model.EffectCommentNotice, "author", confessionID, comment.ID, now),
		newEffect(model.EffectChannelEdit, s.opts.ChannelID, confessionID, comment.ID, now),
	}
	total, err := s.repos.Comments.AddComment(ctx, comment, s.opts.CommentReputation, effects)
	if err != nil {
		err = s.storeErr("add comment", err)
		fail(span, err, "add comment failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("comment.id", comment.ID), attribute.Int64("comment.total", total))

	// 评论已提交，记录失败只影响限流精度
	if err := s.limiter.RecordAndCompact(ctx, authorID); err != nil {
		s.logger.Error(ctx, "record comment rate window failed", logger.Err(err))
	}

	s.kick(effects)

	s.logger.Info(ctx, "Comment created successfully",
		logger.F("commentID", comment.ID),
		logger.F("commentTotal", total))
	span.SetStatus(codes.Ok, "comment created successfully")
	return comment, nil
}
