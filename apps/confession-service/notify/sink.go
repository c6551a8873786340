package notify

import (
	"context"

	"github.com/google/uuid"

	"goim-confession/pkg/logger"
)

// MessageHandle 频道消息句柄，用于后续编辑
type MessageHandle string

// Sink 通知投递，所有调用对核心逻辑都是尽力而为
type Sink interface {
	SendToUser(ctx context.Context, userID, text string) error
	SendToChannel(ctx context.Context, channelID, text string) (MessageHandle, error)
	EditChannelMessage(ctx context.Context, handle MessageHandle, text string) error
}

// LogSink 只写日志，未配置Kafka时使用
type LogSink struct {
	logger logger.Logger
}

// NewLogSink 创建日志投递
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

func (s *LogSink) SendToUser(ctx context.Context, userID, text string) error {
	s.logger.Info(ctx, "notify user", logger.F("target", userID), logger.F("text", text))
	return nil
}

func (s *LogSink) SendToChannel(ctx context.Context, channelID, text string) (MessageHandle, error) {
	handle := MessageHandle(uuid.NewString())
	s.logger.Info(ctx, "post to channel",
		logger.F("channel_id", channelID),
		logger.F("handle", handle),
		logger.F("text", text))
	return handle, nil
}

func (s *LogSink) EditChannelMessage(ctx context.Context, handle MessageHandle, text string) error {
	s.logger.Info(ctx, "edit channel message", logger.F("handle", handle), logger.F("text", text))
	return nil
}
