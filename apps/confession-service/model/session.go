package model

import "fmt"

// SessionState 会话状态
type SessionState string

const (
	SessionIdle                    SessionState = "idle"
	SessionAwaitingConfessionText  SessionState = "awaiting_confession_text"
	SessionAwaitingRejectionReason SessionState = "awaiting_rejection_reason"
	SessionAwaitingComment         SessionState = "awaiting_comment"
	SessionAwaitingUsername        SessionState = "awaiting_username"
	SessionAwaitingBio             SessionState = "awaiting_bio"
	SessionAwaitingBroadcast       SessionState = "awaiting_broadcast"
	SessionAwaitingBlockTarget     SessionState = "awaiting_block_target"
)

// Session 每个用户一条，同一时刻只有一个状态
type Session struct {
	State        SessionState `json:"state"`
	ConfessionID string       `json:"confession_id,omitempty"`
}

// IdleSession 空闲会话
func IdleSession() Session {
	return Session{State: SessionIdle}
}

// NeedsConfession 该状态是否绑定投稿ID
func (s SessionState) NeedsConfession() bool {
	return s == SessionAwaitingComment || s == SessionAwaitingRejectionReason
}

// AdminOnly 该状态是否仅管理员可进入
func (s SessionState) AdminOnly() bool {
	switch s {
	case SessionAwaitingRejectionReason, SessionAwaitingBroadcast, SessionAwaitingBlockTarget:
		return true
	}
	return false
}

// Validate 校验会话
func (s Session) Validate() error {
	switch s.State {
	case SessionIdle, SessionAwaitingConfessionText, SessionAwaitingRejectionReason,
		SessionAwaitingComment, SessionAwaitingUsername, SessionAwaitingBio,
		SessionAwaitingBroadcast, SessionAwaitingBlockTarget:
	default:
		return &ValidationError{Field: "state", Reason: fmt.Sprintf("unknown session state %q", s.State)}
	}
	if s.State.NeedsConfession() && s.ConfessionID == "" {
		return &ValidationError{Field: "confession_id", Reason: fmt.Sprintf("state %s requires a confession id", s.State)}
	}
	if !s.State.NeedsConfession() && s.ConfessionID != "" {
		return &ValidationError{Field: "confession_id", Reason: fmt.Sprintf("state %s does not take a confession id", s.State)}
	}
	return nil
}

// InputResult 会话输入的处理结果
type InputResult struct {
	State        SessionState     `json:"state"`
	Confession   *Confession      `json:"confession,omitempty"`
	Comment      *Comment         `json:"comment,omitempty"`
	Broadcast    *BroadcastResult `json:"broadcast,omitempty"`
	BlockedUser  string           `json:"blocked_user,omitempty"`
	ForwardedTo  string           `json:"forwarded_to,omitempty"`
	ForwardValue string           `json:"forward_value,omitempty"`
}
