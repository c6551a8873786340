package model

import (
	"time"
)

// Counter 序号计数器，单行
type Counter struct {
	Name           string    `json:"name" gorm:"primaryKey;type:varchar(32)"`
	SequenceValue  int64     `json:"sequence_value" gorm:"not null;default:0"`
	LastAssignedAt time.Time `json:"last_assigned_at"`
}

// TableName 指定表名
func (Counter) TableName() string {
	return "sequence_counters"
}

// Confession 匿名投稿
type Confession struct {
	ID               string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AuthorID         string     `json:"-" gorm:"type:varchar(64);not null;index"` // 匿名，不对外输出
	Text             string     `json:"text" gorm:"type:text;not null"`
	Status           string     `json:"status" gorm:"type:varchar(20);not null;index;default:'pending'"`
	SequenceNumber   *int64     `json:"sequence_number,omitempty" gorm:"uniqueIndex"` // 仅审核通过后存在
	Hashtags         []string   `json:"hashtags" gorm:"type:text;serializer:json"`
	CommentTotal     int64      `json:"comment_total" gorm:"not null;default:0"`
	ChannelMessageID *string    `json:"channel_message_id,omitempty" gorm:"type:varchar(64)"`
	CreatedAt        time.Time  `json:"created_at" gorm:"not null;index"`
	DecidedAt        *time.Time `json:"decided_at,omitempty"`
	RejectionReason  *string    `json:"rejection_reason,omitempty" gorm:"type:text"`
}

// TableName 指定表名
func (Confession) TableName() string {
	return "confessions"
}

// IsTerminal 是否处于终态
func (c *Confession) IsTerminal() bool {
	return c.Status == ConfessionStatusApproved || c.Status == ConfessionStatusRejected
}

// CommentThread 评论串，审核通过时创建
type CommentThread struct {
	ConfessionID string    `json:"confession_id" gorm:"primaryKey;type:varchar(36)"`
	Total        int64     `json:"total" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName 指定表名
func (CommentThread) TableName() string {
	return "comment_threads"
}

// Comment 评论
type Comment struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	ConfessionID string    `json:"confession_id" gorm:"type:varchar(36);not null;index:idx_thread_time"`
	AuthorID     string    `json:"-" gorm:"type:varchar(64);not null;index"`
	Text         string    `json:"text" gorm:"type:text;not null"`
	CreatedAt    time.Time `json:"created_at" gorm:"not null;index:idx_thread_time"`
}

// TableName 指定表名
func (Comment) TableName() string {
	return "comments"
}

// CooldownRecord 冷却记录，每个(用户, 动作)一行
type CooldownRecord struct {
	UserID       string `json:"user_id" gorm:"primaryKey;type:varchar(64)"`
	ActionKind   string `json:"action_kind" gorm:"primaryKey;type:varchar(32)"`
	LastActionMs int64  `json:"last_action_ms" gorm:"not null"`
}

// TableName 指定表名
func (CooldownRecord) TableName() string {
	return "cooldowns"
}

// RateWindowEntry 限流窗口中的一次动作
type RateWindowEntry struct {
	ID     int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID string `json:"user_id" gorm:"type:varchar(64);not null;index:idx_ratewin_user"`
	Action string `json:"action" gorm:"type:varchar(32);not null;index:idx_ratewin_user"`
	AtMs   int64  `json:"at_ms" gorm:"not null;index:idx_ratewin_user;index"`
}

// TableName 指定表名
func (RateWindowEntry) TableName() string {
	return "rate_window_entries"
}

// UserStats 用户计数，供外部成就模块读取
type UserStats struct {
	UserID          string    `json:"user_id" gorm:"primaryKey;type:varchar(64)"`
	Reputation      int64     `json:"reputation" gorm:"not null;default:0"`
	ConfessionCount int64     `json:"confession_count" gorm:"not null;default:0"`
	CommentCount    int64     `json:"comment_count" gorm:"not null;default:0"`
	Blocked         bool      `json:"blocked" gorm:"not null;default:false;index"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName 指定表名
func (UserStats) TableName() string {
	return "user_stats"
}

// ConfessionModerationLog 审核日志
type ConfessionModerationLog struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ConfessionID string    `json:"confession_id" gorm:"type:varchar(36);not null;index"`
	ModeratorID  string    `json:"moderator_id" gorm:"type:varchar(64);not null"`
	OldStatus    string    `json:"old_status" gorm:"type:varchar(20);not null"`
	NewStatus    string    `json:"new_status" gorm:"type:varchar(20);not null"`
	Reason       string    `json:"reason" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName 指定表名
func (ConfessionModerationLog) TableName() string {
	return "confession_moderation_logs"
}

// OutboxEntry 与业务写入同一事务落库的副作用，投递成功前可重复执行
type OutboxEntry struct {
	ID            int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	Kind          string     `json:"kind" gorm:"type:varchar(32);not null"`
	Target        string     `json:"target" gorm:"type:varchar(64);not null"`
	ConfessionID  string     `json:"confession_id" gorm:"type:varchar(36);not null;index"`
	CommentID     int64      `json:"comment_id,omitempty"`
	Status        string     `json:"status" gorm:"type:varchar(20);not null;default:'pending';index:idx_outbox_due"`
	Attempts      int        `json:"attempts" gorm:"not null;default:0"`
	NextAttemptMs int64      `json:"next_attempt_ms" gorm:"not null;index:idx_outbox_due"`
	LastError     string     `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt     time.Time  `json:"created_at" gorm:"not null"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
}

// TableName 指定表名
func (OutboxEntry) TableName() string {
	return "outbox_entries"
}

// AllModels 需要迁移的表
func AllModels() []interface{} {
	return []interface{}{
		&Counter{},
		&Confession{},
		&CommentThread{},
		&Comment{},
		&CooldownRecord{},
		&RateWindowEntry{},
		&UserStats{},
		&ConfessionModerationLog{},
		&OutboxEntry{},
	}
}

// ApproveResult 审核通过结果
type ApproveResult struct {
	Confession     *Confession `json:"confession"`
	SequenceNumber int64       `json:"sequence_number"`
}

// BroadcastResult 广播已受理，投递在后台按速率进行
type BroadcastResult struct {
	ID         string `json:"id"`
	Recipients int    `json:"recipients"`
}

// ThrottleStatus 冷却或限流检查结果
type ThrottleStatus struct {
	Allowed          bool  `json:"allowed"`
	RemainingSeconds int64 `json:"remaining_seconds"`
}
