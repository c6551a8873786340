package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"goim-confession/apps/confession-service/dao"
	"goim-confession/apps/confession-service/model"
	"goim-confession/apps/confession-service/notify"
	"goim-confession/pkg/config"
	"goim-confession/pkg/database"
	"goim-confession/pkg/logger"
	"goim-confession/pkg/metrics"
	"goim-confession/pkg/snowflake"
)

// Options 业务阈值
type Options struct {
	ConfessionCooldown  time.Duration
	ConfessionMinLength int
	ConfessionMaxLength int

	CommentWindow    time.Duration
	CommentMaxCount  int
	CommentMinLength int
	CommentMaxLength int

	ApproveReputation int64
	CommentReputation int64

	ChannelID    string
	AdminIDs     []string
	BroadcastRPS float64
	MachineID    int64

	// 副作用最大投递次数，超过后标记为failed
	EffectMaxAttempts int
}

// DefaultOptions 默认阈值
func DefaultOptions() Options {
	return Options{
		ConfessionCooldown:  60 * time.Second,
		ConfessionMinLength: model.DefaultConfessionMinLength,
		ConfessionMaxLength: model.DefaultConfessionMaxLength,
		CommentWindow:       30 * time.Second,
		CommentMaxCount:     3,
		CommentMinLength:    model.DefaultCommentMinLength,
		CommentMaxLength:    model.DefaultCommentMaxLength,
		ApproveReputation:   model.DefaultApproveReputation,
		CommentReputation:   model.DefaultCommentReputation,
		ChannelID:           "confessions",
		BroadcastRPS:        25,
		MachineID:           1,
		EffectMaxAttempts:   8,
	}
}

// OptionsFromConfig 从配置构造阈值
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.ConfessionCooldown = cfg.Confession.Cooldown
	opts.ConfessionMinLength = cfg.Confession.MinLength
	opts.ConfessionMaxLength = cfg.Confession.MaxLength
	opts.CommentWindow = cfg.Comment.Window
	opts.CommentMaxCount = cfg.Comment.MaxCount
	opts.CommentMinLength = cfg.Comment.MinLength
	opts.CommentMaxLength = cfg.Comment.MaxLength
	opts.ApproveReputation = cfg.Reputation.Approve
	opts.CommentReputation = cfg.Reputation.Comment
	opts.ChannelID = cfg.Channel.ID
	opts.AdminIDs = cfg.Admin.IDs
	opts.BroadcastRPS = cfg.Notify.BroadcastRPS
	opts.EffectMaxAttempts = cfg.Notify.MaxAttempts
	return opts
}

// Service 投稿服务
type Service struct {
	repos      *dao.Repositories
	sink       notify.Sink
	dispatcher *notify.Dispatcher
	clock      clock.PassiveClock
	logger     logger.Logger
	metrics    *metrics.Metrics
	opts       Options

	ids         *snowflake.Snowflake
	sequence    *SequenceAllocator
	cooldown    *CooldownGuard
	limiter     *RateLimiter
	broadcaster *notify.Broadcaster
}

// NewService 创建投稿服务实例
func NewService(repos *dao.Repositories, sink notify.Sink, dispatcher *notify.Dispatcher, clk clock.PassiveClock, log logger.Logger, m *metrics.Metrics, opts Options) (*Service, error) {
	if m == nil {
		m = metrics.New("confession")
	}
	ids, err := snowflake.NewSnowflake(opts.MachineID, clk)
	if err != nil {
		return nil, err
	}

	if opts.EffectMaxAttempts < 1 {
		opts.EffectMaxAttempts = 1
	}

	return &Service{
		repos:      repos,
		sink:       sink,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     log,
		metrics:    m,
		opts:       opts,
		ids:        ids,
		sequence:   NewSequenceAllocator(repos.Sequence, clk),
		cooldown:   NewCooldownGuard(repos.Cooldowns, clk),
		limiter:    NewRateLimiter(repos.RateWindows, model.ActionComment, opts.CommentWindow, clk, log, m),

		broadcaster: notify.NewBroadcaster(sink, opts.BroadcastRPS, notify.DefaultBroadcastBacklog, log, m),
	}, nil
}

// Limiter 评论限流器，供压缩任务使用
func (s *Service) Limiter() *RateLimiter {
	return s.limiter
}

// Broadcaster 广播通道，由调用方负责启停
func (s *Service) Broadcaster() *notify.Broadcaster {
	return s.broadcaster
}

// Sequence 序号分配器
func (s *Service) Sequence() *SequenceAllocator {
	return s.sequence
}

// IsAdmin 是否为配置中的管理员
func (s *Service) IsAdmin(userID string) bool {
	for _, id := range s.opts.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// storeError 将重试用尽映射为StoreConflictError，其余错误原样返回
func storeError(op string, err error) error {
	if errors.Is(err, database.ErrRetriesExhausted) {
		return &model.StoreConflictError{Op: op, Err: err}
	}
	return err
}

// storeErr 同storeError，并记录冲突指标
func (s *Service) storeErr(op string, err error) error {
	err = storeError(op, err)
	var conflict *model.StoreConflictError
	if errors.As(err, &conflict) {
		s.metrics.StoreConflicts.WithLabelValues(op).Inc()
	}
	return err
}

// fail 在span上记录错误
func fail(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// dispatch 提交到副作用队列，队列满时丢弃，由重投任务补发
func (s *Service) dispatch(kind, target string, run func(ctx context.Context) error) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Submit(notify.Job{Kind: kind, Target: target, Run: run})
}
