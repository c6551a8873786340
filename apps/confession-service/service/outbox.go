package service

import (
	"context"
	"fmt"
	"time"

	"goim-confession/apps/confession-service/model"
	"goim-confession/apps/confession-service/notify"
	"goim-confession/pkg/logger"
	"goim-confession/pkg/utils"
)

const (
	effectBatchSize    = 100
	effectLease        = time.Minute
	effectBaseDelay    = 5 * time.Second
	effectMaxDelay     = 10 * time.Minute
	deliveredRetention = 24 * time.Hour
)

// newEffect 待投递的副作用，与业务写入同一事务落库
func newEffect(kind, target, confessionID string, commentID int64, now time.Time) *model.OutboxEntry {
	return &model.OutboxEntry{
		Kind:          kind,
		Target:        target,
		ConfessionID:  confessionID,
		CommentID:     commentID,
		Status:        model.OutboxStatusPending,
		NextAttemptMs: utils.ToUnixMs(now),
		CreatedAt:     now,
	}
}

// kick 提交后立即尝试投递。入队失败的条目留在发件箱，由重投任务处理
func (s *Service) kick(effects []*model.OutboxEntry) {
	for _, entry := range effects {
		entry := entry
		s.dispatch(entry.Kind, entry.Target, func(ctx context.Context) error {
			return s.runEffect(ctx, entry)
		})
	}
}

// RedeliverDue 重投到期的副作用，并清理过期的已投递条目。返回本轮投递成功数
func (s *Service) RedeliverDue(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	entries, err := s.repos.Outbox.Due(ctx, utils.ToUnixMs(now), effectBatchSize)
	if err != nil {
		return 0, err
	}

	var delivered int64
	for _, entry := range entries {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if err := s.runEffect(ctx, entry); err != nil {
			s.metrics.Deliveries.WithLabelValues(entry.Kind, "failed").Inc()
			continue
		}
		s.metrics.Deliveries.WithLabelValues(entry.Kind, "redelivered").Inc()
		delivered++
	}

	if _, err := s.repos.Outbox.Purge(ctx, now.Add(-deliveredRetention)); err != nil {
		s.logger.Warn(ctx, "purge delivered effects failed", logger.Err(err))
	}
	return delivered, nil
}

// Effects 投稿相关的副作用及其投递状态
func (s *Service) Effects(ctx context.Context, confessionID string) ([]*model.OutboxEntry, error) {
	return s.repos.Outbox.ListByConfession(ctx, confessionID)
}

// runEffect 领取后执行，失败时按指数退避重新排期。未领取到说明已有其他投递者
func (s *Service) runEffect(ctx context.Context, entry *model.OutboxEntry) error {
	now := s.clock.Now()
	claimed, err := s.repos.Outbox.Claim(ctx, entry, utils.ToUnixMs(now), utils.ToUnixMs(now.Add(effectLease)))
	if err != nil || !claimed {
		return err
	}

	deliverErr := s.deliverEffect(ctx, entry)
	// 投递超时后仍需记账
	bookCtx := context.WithoutCancel(ctx)
	if deliverErr == nil {
		return s.repos.Outbox.MarkDelivered(bookCtx, entry.ID, s.clock.Now())
	}

	giveUp := entry.Attempts >= s.opts.EffectMaxAttempts
	next := s.clock.Now().Add(retryDelay(entry.Attempts))
	if err := s.repos.Outbox.Reschedule(bookCtx, entry.ID, utils.ToUnixMs(next), deliverErr.Error(), giveUp); err != nil {
		s.logger.Error(ctx, "reschedule effect failed", logger.F("effectID", entry.ID), logger.Err(err))
	}
	if giveUp {
		s.logger.Error(ctx, "effect abandoned after max attempts",
			logger.F("effectID", entry.ID),
			logger.F("kind", entry.Kind),
			logger.F("confessionID", entry.ConfessionID),
			logger.F("attempts", entry.Attempts),
			logger.Err(deliverErr))
	}
	return deliverErr
}

func retryDelay(attempts int) time.Duration {
	delay := effectBaseDelay
	for i := 1; i < attempts && delay < effectMaxDelay; i++ {
		delay *= 2
	}
	if delay > effectMaxDelay {
		delay = effectMaxDelay
	}
	return delay
}

// deliverEffect 执行时读取最新数据，重复执行不会重复发布频道帖子
func (s *Service) deliverEffect(ctx context.Context, entry *model.OutboxEntry) error {
	confession, err := s.repos.Confessions.GetConfession(ctx, entry.ConfessionID)
	if err != nil {
		return err
	}

	switch entry.Kind {
	case model.EffectAdminNotice:
		return s.sink.SendToUser(ctx, entry.Target, pendingNoticeText(confession))

	case model.EffectRejectedNotice:
		reason := ""
		if confession.RejectionReason != nil {
			reason = *confession.RejectionReason
		}
		return s.sink.SendToUser(ctx, confession.AuthorID, rejectedNoticeText(reason))
	}

	if confession.SequenceNumber == nil {
		return fmt.Errorf("confession %s has no sequence number", confession.ID)
	}
	number := *confession.SequenceNumber

	switch entry.Kind {
	case model.EffectChannelPost:
		if confession.ChannelMessageID != nil {
			return nil
		}
		handle, err := s.sink.SendToChannel(ctx, entry.Target, channelPostText(confession, number))
		if err != nil {
			return err
		}
		return s.repos.Confessions.SetChannelMessageID(ctx, confession.ID, string(handle))

	case model.EffectApprovedNotice:
		return s.sink.SendToUser(ctx, confession.AuthorID, approvedNoticeText(number))

	case model.EffectCommentNotice:
		comment, err := s.repos.Comments.GetComment(ctx, entry.CommentID)
		if err != nil {
			return err
		}
		if comment.AuthorID == confession.AuthorID {
			return nil
		}
		return s.sink.SendToUser(ctx, confession.AuthorID, commentNoticeText(number, comment))

	case model.EffectChannelEdit:
		// 帖子尚未发布时，发布时会带上最新评论数
		if confession.ChannelMessageID == nil {
			return nil
		}
		handle := notify.MessageHandle(*confession.ChannelMessageID)
		return s.sink.EditChannelMessage(ctx, handle, channelPostText(confession, number))

	default:
		return fmt.Errorf("unknown effect kind %q", entry.Kind)
	}
}
