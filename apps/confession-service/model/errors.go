package model

import (
	"fmt"
	"time"

	"goim-confession/pkg/utils"
)

// ValidationError 内容校验失败，原样返回给用户
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// RateLimitedError 冷却或限流窗口生效中
type RateLimitedError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s rate limited, retry in %ds", e.Action, e.RemainingSeconds())
}

// RemainingSeconds 剩余等待秒数，向上取整
func (e *RateLimitedError) RemainingSeconds() int64 {
	return utils.CeilSeconds(e.RetryAfter)
}

// NotFoundError 引用的记录不存在
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// InvalidStateError 从终态或不匹配的状态发起转换
type InvalidStateError struct {
	ID     string
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("confession %s already handled (%s)", e.ID, e.Status)
}

// StoreConflictError 事务重试次数用尽，可整体重试
type StoreConflictError struct {
	Op  string
	Err error
}

func (e *StoreConflictError) Error() string {
	return fmt.Sprintf("%s: store conflict: %v", e.Op, e.Err)
}

func (e *StoreConflictError) Unwrap() error {
	return e.Err
}

// DeliveryError 通知投递失败，只记录日志
type DeliveryError struct {
	Target string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ForbiddenError 无权执行
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}
