package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/logger"
	"goim-confession/pkg/telemetry"
)

// GetSession 当前会话，不存在时为idle
func (s *Service) GetSession(ctx context.Context, userID string) (model.Session, error) {
	return s.repos.Sessions.Get(ctx, userID)
}

// ClearSession 回到idle
func (s *Service) ClearSession(ctx context.Context, userID string) error {
	return s.repos.Sessions.Clear(ctx, userID)
}

// EnterSession 进入等待输入的状态，覆盖之前的状态
func (s *Service) EnterSession(ctx context.Context, userID string, isAdmin bool, session model.Session) (model.Session, error) {
	if err := session.Validate(); err != nil {
		return model.Session{}, err
	}
	if session.State.AdminOnly() && !isAdmin {
		return model.Session{}, &model.ForbiddenError{Reason: "admin only"}
	}

	switch session.State {
	case model.SessionIdle:
		return model.IdleSession(), s.repos.Sessions.Clear(ctx, userID)
	case model.SessionAwaitingComment:
		confession, err := s.repos.Confessions.GetConfession(ctx, session.ConfessionID)
		if err != nil {
			return model.Session{}, err
		}
		if confession.Status != model.ConfessionStatusApproved {
			return model.Session{}, &model.ValidationError{Field: "confession_id", Reason: "confession is not open for comments"}
		}
	case model.SessionAwaitingRejectionReason:
		confession, err := s.repos.Confessions.GetConfession(ctx, session.ConfessionID)
		if err != nil {
			return model.Session{}, err
		}
		if confession.IsTerminal() {
			return model.Session{}, &model.InvalidStateError{ID: confession.ID, Status: confession.Status}
		}
	}

	if err := s.repos.Sessions.Set(ctx, userID, session); err != nil {
		return model.Session{}, err
	}
	return session, nil
}

// HandleInput 按当前会话状态路由文本输入。处理完成后回到idle，
// 校验失败、限流或存储冲突时保留状态以便重试
func (s *Service) HandleInput(ctx context.Context, userID string, isAdmin bool, text string) (*model.InputResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "confession.service.HandleInput")
	defer span.End()

	session, err := s.repos.Sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("session.state", string(session.State)))

	result, err := s.route(ctx, userID, isAdmin, session, text)
	if err != nil {
		fail(span, err, "input failed")
		if !keepSession(err) {
			s.clearAfterInput(ctx, userID)
		}
		return nil, err
	}

	s.clearAfterInput(ctx, userID)
	result.State = model.SessionIdle
	return result, nil
}

func (s *Service) route(ctx context.Context, userID string, isAdmin bool, session model.Session, text string) (*model.InputResult, error) {
	if session.State.AdminOnly() && !isAdmin {
		return nil, &model.ForbiddenError{Reason: "admin only"}
	}

	switch session.State {
	case model.SessionAwaitingConfessionText:
		confession, err := s.SubmitConfession(ctx, userID, text)
		if err != nil {
			return nil, err
		}
		return &model.InputResult{Confession: confession}, nil

	case model.SessionAwaitingComment:
		comment, err := s.AddComment(ctx, session.ConfessionID, userID, text)
		if err != nil {
			return nil, err
		}
		return &model.InputResult{Comment: comment}, nil

	case model.SessionAwaitingRejectionReason:
		confession, err := s.RejectConfession(ctx, session.ConfessionID, userID, text)
		if err != nil {
			return nil, err
		}
		return &model.InputResult{Confession: confession}, nil

	case model.SessionAwaitingBroadcast:
		broadcast, err := s.Broadcast(ctx, text)
		if err != nil {
			return nil, err
		}
		return &model.InputResult{Broadcast: broadcast}, nil

	case model.SessionAwaitingBlockTarget:
		target := strings.TrimSpace(text)
		if err := s.BlockUser(ctx, target); err != nil {
			return nil, err
		}
		return &model.InputResult{BlockedUser: target}, nil

	case model.SessionAwaitingUsername, model.SessionAwaitingBio:
		value := sanitizeText(text)
		if value == "" {
			return nil, &model.ValidationError{Field: "text", Reason: "must not be empty"}
		}
		field := "username"
		if session.State == model.SessionAwaitingBio {
			field = "bio"
		}
		return &model.InputResult{ForwardedTo: field, ForwardValue: value}, nil

	default:
		return nil, &model.ValidationError{Field: "session", Reason: "no input expected"}
	}
}

func keepSession(err error) bool {
	var (
		validation *model.ValidationError
		limited    *model.RateLimitedError
		conflict   *model.StoreConflictError
	)
	return errors.As(err, &validation) || errors.As(err, &limited) || errors.As(err, &conflict)
}

func (s *Service) clearAfterInput(ctx context.Context, userID string) {
	if err := s.repos.Sessions.Clear(ctx, userID); err != nil {
		s.logger.Warn(ctx, "clear session failed", logger.F("userID", userID), logger.Err(err))
	}
}
