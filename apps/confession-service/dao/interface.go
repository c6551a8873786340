package dao

import (
	"context"
	"time"

	"goim-confession/apps/confession-service/model"
)

// ConfessionDAO 投稿数据访问接口
type ConfessionDAO interface {
	// 创建待审核投稿，同时累加作者投稿数。cooldown非空时冷却记录在同一事务内写入
	CreateConfession(ctx context.Context, confession *model.Confession, cooldown *model.CooldownRecord, effects []*model.OutboxEntry) error
	GetConfession(ctx context.Context, id string) (*model.Confession, error)
	GetConfessionByNumber(ctx context.Context, number int64) (*model.Confession, error)
	ListPending(ctx context.Context, page, pageSize int) ([]*model.Confession, int64, error)
	ListByHashtag(ctx context.Context, tag string, page, pageSize int) ([]*model.Confession, int64, error)

	// 审核：一个事务内分配序号、转换状态、创建评论串、写审核日志、累加作者声望、写入副作用
	ApproveConfession(ctx context.Context, id, moderatorID string, reputation int64, now time.Time, effects []*model.OutboxEntry) (*model.Confession, int64, error)
	RejectConfession(ctx context.Context, id, moderatorID, reason string, now time.Time, effects []*model.OutboxEntry) (*model.Confession, error)

	SetChannelMessageID(ctx context.Context, id, handle string) error
	GetModerationLogs(ctx context.Context, id string) ([]*model.ConfessionModerationLog, error)
}

// SequenceDAO 序号计数器
type SequenceDAO interface {
	AllocateNext(ctx context.Context, now time.Time) (int64, error)
	Current(ctx context.Context) (int64, error)
}

// CommentDAO 评论数据访问接口
type CommentDAO interface {
	// 追加评论并同时累加评论串与投稿的计数、评论者的计数与声望，返回新的总数
	AddComment(ctx context.Context, comment *model.Comment, reputation int64, effects []*model.OutboxEntry) (int64, error)
	GetComment(ctx context.Context, id int64) (*model.Comment, error)
	GetThread(ctx context.Context, confessionID string) (*model.CommentThread, error)
	ListComments(ctx context.Context, confessionID string, page, pageSize int) ([]*model.Comment, int64, error)
}

// UserDAO 用户计数
type UserDAO interface {
	GetStats(ctx context.Context, userID string) (*model.UserStats, error)
	AddReputation(ctx context.Context, userID string, delta int64, now time.Time) error
	IncrementCommentCount(ctx context.Context, userID string, now time.Time) error
	SetBlocked(ctx context.Context, userID string, blocked bool, now time.Time) error
	IsBlocked(ctx context.Context, userID string) (bool, error)
	// 按user_id升序分页列出未被屏蔽的用户
	ListRecipients(ctx context.Context, afterUserID string, limit int) ([]string, error)
}

// CooldownStore 冷却记录存储
type CooldownStore interface {
	LastAction(ctx context.Context, userID, kind string) (time.Time, bool, error)
	Touch(ctx context.Context, userID, kind string, at time.Time) error
}

// RateWindowStore 限流窗口存储
type RateWindowStore interface {
	Append(ctx context.Context, userID, action string, at time.Time) error
	// 返回晚于since的时间戳，升序
	Since(ctx context.Context, userID, action string, since time.Time) ([]time.Time, error)
	// 删除不晚于before的条目
	Compact(ctx context.Context, userID, action string, before time.Time) (int64, error)
	CompactAll(ctx context.Context, action string, before time.Time) (int64, error)
}

// OutboxDAO 副作用发件箱
type OutboxDAO interface {
	// 到期且待投递的条目，按id升序
	Due(ctx context.Context, nowMs int64, limit int) ([]*model.OutboxEntry, error)
	// 乐观领取：attempts与到期时间都匹配时占用到leaseUntilMs，成功后entry.Attempts加一
	Claim(ctx context.Context, entry *model.OutboxEntry, nowMs, leaseUntilMs int64) (bool, error)
	MarkDelivered(ctx context.Context, id int64, now time.Time) error
	// 投递失败后重新排期，giveUp时标记为failed不再重试
	Reschedule(ctx context.Context, id int64, nextAttemptMs int64, lastErr string, giveUp bool) error
	ListByConfession(ctx context.Context, confessionID string) ([]*model.OutboxEntry, error)
	// 删除早于before的已投递条目
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// SessionStore 会话存储
type SessionStore interface {
	Get(ctx context.Context, userID string) (model.Session, error)
	Set(ctx context.Context, userID string, session model.Session) error
	Clear(ctx context.Context, userID string) error
}

// Repositories 服务依赖的全部存储
type Repositories struct {
	Confessions ConfessionDAO
	Sequence    SequenceDAO
	Comments    CommentDAO
	Users       UserDAO
	Cooldowns   CooldownStore
	RateWindows RateWindowStore
	Sessions    SessionStore
	Outbox      OutboxDAO

	// 冷却记录所在后端，为sql时可与投稿写入共用事务
	Backend string
}

// CooldownInTx 冷却记录是否与业务数据在同一关系库
func (r *Repositories) CooldownInTx() bool {
	return r.Backend == BackendSQL
}
