package model

// 投稿状态常量
const (
	ConfessionStatusPending  = "pending"  // 待审核
	ConfessionStatusApproved = "approved" // 已通过
	ConfessionStatusRejected = "rejected" // 已拒绝
)

// 计数器名称
const (
	CounterConfession = "confession"
)

// 冷却与限流动作类型
const (
	ActionConfession = "confession"
	ActionComment    = "comment"
)

// 角色
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// 分页常量
const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// 默认阈值
const (
	DefaultConfessionMinLength = 5
	DefaultConfessionMaxLength = 1000
	DefaultCommentMinLength    = 3
	DefaultCommentMaxLength    = 500
	DefaultApproveReputation   = 10
	DefaultCommentReputation   = 5
)

// Redis键前缀
const (
	CooldownKeyPrefix   = "cooldown:"
	RateWindowKeyPrefix = "ratewin:"
	SessionKeyPrefix    = "session:"
)

// 事件类型常量
const (
	EventConfessionSubmitted = "confession.submitted"
	EventConfessionApproved  = "confession.approved"
	EventConfessionRejected  = "confession.rejected"
	EventCommentCreated      = "comment.created"
	EventBroadcast           = "broadcast"
)

// 副作用类型，写入发件箱
const (
	EffectAdminNotice    = EventConfessionSubmitted
	EffectApprovedNotice = EventConfessionApproved
	EffectRejectedNotice = EventConfessionRejected
	EffectCommentNotice  = EventCommentCreated
	EffectChannelPost    = "channel_post"
	EffectChannelEdit    = "channel_edit"
)

// 发件箱状态
const (
	OutboxStatusPending   = "pending"
	OutboxStatusDelivered = "delivered"
	OutboxStatusFailed    = "failed" // 超过最大尝试次数
)
