package service

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"goim-confession/apps/confession-service/dao"
	"goim-confession/pkg/logger"
	"goim-confession/pkg/metrics"
)

// RateLimiter 持久化滑动窗口
type RateLimiter struct {
	store   dao.RateWindowStore
	action  string
	window  time.Duration
	clock   clock.PassiveClock
	logger  logger.Logger
	metrics *metrics.Metrics
}

// NewRateLimiter window用于追加后的压缩
func NewRateLimiter(store dao.RateWindowStore, action string, window time.Duration, clk clock.PassiveClock, log logger.Logger, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{store: store, action: action, window: window, clock: clk, logger: log, metrics: m}
}

// IsAllowed 每次读取都按时间戳重新过滤，不依赖压缩是否完成
func (r *RateLimiter) IsAllowed(ctx context.Context, userID string, window time.Duration, maxCount int) (bool, time.Duration, error) {
	now := r.clock.Now()
	entries, err := r.store.Since(ctx, userID, r.action, now.Add(-window))
	if err != nil {
		return false, 0, err
	}
	if len(entries) < maxCount {
		return true, 0, nil
	}

	// 需要entries[len-maxCount]过期后计数才会低于maxCount
	unblockAt := entries[len(entries)-maxCount].Add(window)
	wait := unblockAt.Sub(now)
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return false, wait, nil
}

// RecordAndCompact 追加当前时间，然后尽力清理该用户过期条目，清理失败只记录日志
func (r *RateLimiter) RecordAndCompact(ctx context.Context, userID string) error {
	now := r.clock.Now()
	if err := r.store.Append(ctx, userID, r.action, now); err != nil {
		return err
	}

	removed, err := r.store.Compact(ctx, userID, r.action, now.Add(-r.window))
	if err != nil {
		r.logger.Warn(ctx, "rate window compaction failed",
			logger.F("user_id", userID), logger.F("action", r.action), logger.Err(err))
		return nil
	}
	if removed > 0 && r.metrics != nil {
		r.metrics.CompactionDeletes.Add(float64(removed))
	}
	return nil
}

// CompactAll 清理所有用户的过期条目
func (r *RateLimiter) CompactAll(ctx context.Context) (int64, error) {
	removed, err := r.store.CompactAll(ctx, r.action, r.clock.Now().Add(-r.window))
	if err != nil {
		return removed, err
	}
	if removed > 0 && r.metrics != nil {
		r.metrics.CompactionDeletes.Add(float64(removed))
	}
	return removed, nil
}
