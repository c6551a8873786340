package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goim-confession/apps/confession-service/model"
	tracecontext "goim-confession/pkg/context"
	"goim-confession/pkg/logger"
	"goim-confession/pkg/telemetry"
	"goim-confession/pkg/utils"
)

// SubmitConfession 提交投稿，进入待审核队列
func (s *Service) SubmitConfession(ctx context.Context, authorID, rawText string) (*model.Confession, error) {
	ctx, span := telemetry.StartSpan(ctx, "confession.service.SubmitConfession",
		attribute.Int("confession.raw_length", len(rawText)))
	defer span.End()
	ctx = tracecontext.WithUserID(ctx, authorID)

	if authorID == "" {
		return nil, s.submitFailed(span, "invalid", &model.ValidationError{Field: "author_id", Reason: "required"})
	}

	// 参数验证
	text := sanitizeText(rawText)
	if err := checkLength("text", text, s.opts.ConfessionMinLength, s.opts.ConfessionMaxLength); err != nil {
		return nil, s.submitFailed(span, "invalid", err)
	}

	blocked, err := s.repos.Users.IsBlocked(ctx, authorID)
	if err != nil {
		return nil, s.submitFailed(span, "failed", err)
	}
	if blocked {
		return nil, s.submitFailed(span, "forbidden", &model.ForbiddenError{Reason: "user is blocked"})
	}

	allowed, wait, err := s.cooldown.IsAllowed(ctx, authorID, model.ActionConfession, s.opts.ConfessionCooldown)
	if err != nil {
		return nil, s.submitFailed(span, "failed", err)
	}
	if !allowed {
		s.metrics.ThrottleRejects.WithLabelValues(model.ActionConfession).Inc()
		return nil, s.submitFailed(span, "throttled", &model.RateLimitedError{Action: model.ActionConfession, RetryAfter: wait})
	}

	now := s.clock.Now()
	confession := &model.Confession{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Text:      text,
		Status:    model.ConfessionStatusPending,
		Hashtags:  extractHashtags(text),
		CreatedAt: now,
	}

	// 关系库后端时冷却记录随投稿一起提交
	var cooldown *model.CooldownRecord
	if s.repos.CooldownInTx() {
		cooldown = &model.CooldownRecord{UserID: authorID, ActionKind: model.ActionConfession, LastActionMs: utils.ToUnixMs(now)}
	}

	// 通知管理员，每人一条
	effects := make([]*model.OutboxEntry, 0, len(s.opts.AdminIDs))
	for _, adminID := range s.opts.AdminIDs {
		effects = append(effects, newEffect(model.EffectAdminNotice, adminID, confession.ID, 0, now))
	}

	if err := s.repos.Confessions.CreateConfession(ctx, confession, cooldown, effects); err != nil {
		return nil, s.submitFailed(span, "failed", s.storeErr("create confession", err))
	}
	span.SetAttributes(attribute.String("confession.id", confession.ID))

	if cooldown == nil {
		if err := s.cooldown.Record(ctx, authorID, model.ActionConfession); err != nil {
			s.logger.Error(ctx, "record confession cooldown failed",
				logger.F("confessionID", confession.ID), logger.Err(err))
		}
	}
	s.kick(effects)

	s.metrics.Submissions.WithLabelValues("accepted").Inc()
	s.logger.Info(ctx, "Confession submitted",
		logger.F("confessionID", confession.ID),
		logger.F("hashtags", confession.Hashtags))
	span.SetStatus(codes.Ok, "confession submitted")
	return confession, nil
}

func (s *Service) submitFailed(span trace.Span, outcome string, err error) error {
	s.metrics.Submissions.WithLabelValues(outcome).Inc()
	fail(span, err, "submit "+outcome)
	return err
}

// ApproveConfession 审核通过：分配序号、累加作者声望并登记发布。发布等副作用失败不会回滚序号
func (s *Service) ApproveConfession(ctx context.Context, confessionID, moderatorID string) (*model.Confession, int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "confession.service.ApproveConfession",
		attribute.String("confession.id", confessionID),
		attribute.String("moderator.id", moderatorID))
	defer span.End()
	ctx = tracecontext.WithConfessionID(ctx, confessionID)

	now := s.clock.Now()
	effects := []*model.OutboxEntry{
		newEffect(model.EffectChannelPost, s.opts.ChannelID, confessionID, 0, now),
		newEffect(model.EffectApprovedNotice, "author", confessionID, 0, now),
	}
	confession, number, err := s.repos.Confessions.ApproveConfession(ctx, confessionID, moderatorID, s.opts.ApproveReputation, now, effects)
	if err != nil {
		err = s.storeErr("approve confession", err)
		s.metrics.Decisions.WithLabelValues(model.ConfessionStatusApproved, decisionOutcome(err)).Inc()
		fail(span, err, "approve failed")
		return nil, 0, err
	}
	s.metrics.Allocations.Inc()
	s.metrics.Decisions.WithLabelValues(model.ConfessionStatusApproved, "ok").Inc()
	span.SetAttributes(attribute.Int64("confession.sequence_number", number))

	s.kick(effects)

	s.logger.Info(ctx, "Confession approved",
		logger.F("confessionID", confessionID),
		logger.F("sequenceNumber", number),
		logger.F("moderatorID", moderatorID))
	span.SetStatus(codes.Ok, "confession approved")
	return confession, number, nil
}

// RejectConfession 拒绝投稿
func (s *Service) RejectConfession(ctx context.Context, confessionID, moderatorID, reason string) (*model.Confession, error) {
	ctx, span := telemetry.StartSpan(ctx, "confession.service.RejectConfession",
		attribute.String("confession.id", confessionID),
		attribute.String("moderator.id", moderatorID))
	defer span.End()
	ctx = tracecontext.WithConfessionID(ctx, confessionID)

	reason = sanitizeText(reason)
	now := s.clock.Now()
	effects := []*model.OutboxEntry{newEffect(model.EffectRejectedNotice, "author", confessionID, 0, now)}
	confession, err := s.repos.Confessions.RejectConfession(ctx, confessionID, moderatorID, reason, now, effects)
	if err != nil {
		err = s.storeErr("reject confession", err)
		s.metrics.Decisions.WithLabelValues(model.ConfessionStatusRejected, decisionOutcome(err)).Inc()
		fail(span, err, "reject failed")
		return nil, err
	}
	s.metrics.Decisions.WithLabelValues(model.ConfessionStatusRejected, "ok").Inc()

	s.kick(effects)

	s.logger.Info(ctx, "Confession rejected",
		logger.F("confessionID", confessionID),
		logger.F("moderatorID", moderatorID))
	span.SetStatus(codes.Ok, "confession rejected")
	return confession, nil
}

func decisionOutcome(err error) string {
	var (
		notFound *model.NotFoundError
		invalid  *model.InvalidStateError
		conflict *model.StoreConflictError
	)
	switch {
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &invalid):
		return "invalid_state"
	case errors.As(err, &conflict):
		return "conflict"
	default:
		return "failed"
	}
}
