package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"goim-confession/apps/confession-service/model"
	"goim-confession/apps/confession-service/notify"
	"goim-confession/pkg/logger"
	"goim-confession/pkg/telemetry"
)

// broadcastPageSize 分页枚举接收者
const broadcastPageSize = 500

// Broadcast 向所有未被屏蔽的用户发送消息。接收者在受理时确定，由广播通道在后台按速率逐个投递
func (s *Service) Broadcast(ctx context.Context, rawText string) (*model.BroadcastResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "confession.service.Broadcast")
	defer span.End()

	text := sanitizeText(rawText)
	if text == "" {
		err := &model.ValidationError{Field: "text", Reason: "must not be empty"}
		fail(span, err, "invalid parameters")
		return nil, err
	}

	var recipients []string
	after := ""
	for {
		page, err := s.repos.Users.ListRecipients(ctx, after, broadcastPageSize)
		if err != nil {
			fail(span, err, "list recipients failed")
			return nil, err
		}
		recipients = append(recipients, page...)
		if len(page) < broadcastPageSize {
			break
		}
		after = page[len(page)-1]
	}

	campaign := notify.Campaign{ID: uuid.NewString(), Text: text, Recipients: recipients}
	if err := s.broadcaster.Enqueue(ctx, campaign); err != nil {
		fail(span, err, "enqueue broadcast failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("broadcast.id", campaign.ID),
		attribute.Int("broadcast.recipients", len(recipients)))
	s.logger.Info(ctx, "Broadcast queued",
		logger.F("broadcastID", campaign.ID),
		logger.F("recipients", len(recipients)))
	span.SetStatus(codes.Ok, "broadcast queued")
	return &model.BroadcastResult{ID: campaign.ID, Recipients: len(recipients)}, nil
}

// BlockUser 屏蔽用户
func (s *Service) BlockUser(ctx context.Context, userID string) error {
	return s.setBlocked(ctx, userID, true)
}

// UnblockUser 解除屏蔽
func (s *Service) UnblockUser(ctx context.Context, userID string) error {
	return s.setBlocked(ctx, userID, false)
}

func (s *Service) setBlocked(ctx context.Context, userID string, blocked bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return &model.ValidationError{Field: "user_id", Reason: "required"}
	}
	if err := s.repos.Users.SetBlocked(ctx, userID, blocked, s.clock.Now()); err != nil {
		return s.storeErr("set blocked", err)
	}
	s.logger.Info(ctx, "User block state changed",
		logger.F("targetUserID", userID),
		logger.F("blocked", blocked))
	return nil
}
