package service

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"goim-confession/apps/confession-service/dao"
)

// CooldownGuard 每个(用户, 动作)一个时间戳的冷却
type CooldownGuard struct {
	store dao.CooldownStore
	clock clock.PassiveClock
}

// NewCooldownGuard 创建冷却检查
func NewCooldownGuard(store dao.CooldownStore, clk clock.PassiveClock) *CooldownGuard {
	return &CooldownGuard{store: store, clock: clk}
}

// IsAllowed 无记录时放行；否则距上次动作超过window才放行，返回剩余等待时间
func (g *CooldownGuard) IsAllowed(ctx context.Context, userID, kind string, window time.Duration) (bool, time.Duration, error) {
	last, found, err := g.store.LastAction(ctx, userID, kind)
	if err != nil {
		return false, 0, err
	}
	if !found {
		return true, 0, nil
	}

	elapsed := g.clock.Now().Sub(last)
	if elapsed > window {
		return true, 0, nil
	}
	// 存储精度为毫秒，恰好等于window时仍需再等1ms
	return false, window - elapsed + time.Millisecond, nil
}

// Record 记录当前时间，只覆盖该动作
func (g *CooldownGuard) Record(ctx context.Context, userID, kind string) error {
	return g.store.Touch(ctx, userID, kind, g.clock.Now())
}
