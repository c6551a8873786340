package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"k8s.io/utils/clock"

	"goim-confession/pkg/logger"
)

// ErrTaskRunning 上一轮尚未结束
var ErrTaskRunning = errors.New("scheduled task already running")

// cronRetryDelay 无法计算下一次触发时间时的等待
const cronRetryDelay = 30 * time.Second

// CronTask 按cron表达式定期执行的后台任务，同一任务不会重叠执行
type CronTask struct {
	name    string
	task    func(ctx context.Context) (int64, error)
	cron    string
	clock   clock.Clock
	logger  logger.Logger
	running atomic.Bool
}

// NewCompactor 定期清理所有用户的过期限流条目
func NewCompactor(limiter *RateLimiter, cronExpr string, clk clock.Clock, log logger.Logger) (*CronTask, error) {
	return newCronTask("compaction", cronExpr, limiter.CompactAll, clk, log)
}

// NewRedeliverer 定期重投发件箱中到期的副作用
func NewRedeliverer(svc *Service, cronExpr string, clk clock.Clock, log logger.Logger) (*CronTask, error) {
	return newCronTask("redelivery", cronExpr, svc.RedeliverDue, clk, log)
}

func newCronTask(name, cronExpr string, task func(ctx context.Context) (int64, error), clk clock.Clock, log logger.Logger) (*CronTask, error) {
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid %s cron expression %q", name, cronExpr)
	}
	return &CronTask{name: name, task: task, cron: cronExpr, clock: clk, logger: log}, nil
}

// Run 阻塞直到ctx取消
func (c *CronTask) Run(ctx context.Context) {
	c.logger.Info(ctx, "scheduler started", logger.F("task", c.name), logger.F("cron", c.cron))
	for {
		if ctx.Err() != nil {
			return
		}

		now := c.clock.Now()
		next, err := gronx.NextTickAfter(c.cron, now, false)
		if err != nil {
			c.logger.Error(ctx, "compute next tick failed", logger.F("task", c.name), logger.Err(err))
			if !c.sleep(ctx, cronRetryDelay) {
				return
			}
			continue
		}

		if !c.sleep(ctx, next.Sub(now)) {
			return
		}
		if _, err := c.RunOnce(ctx); err != nil && !errors.Is(err, ErrTaskRunning) {
			c.logger.Error(ctx, "scheduled task failed", logger.F("task", c.name), logger.Err(err))
		}
	}
}

// RunOnce 执行一轮，与正在执行的一轮重叠时直接返回ErrTaskRunning
func (c *CronTask) RunOnce(ctx context.Context) (int64, error) {
	if !c.running.CompareAndSwap(false, true) {
		return 0, ErrTaskRunning
	}
	defer c.running.Store(false)

	n, err := c.task(ctx)
	if err != nil {
		return n, err
	}
	c.logger.Debug(ctx, "scheduled task finished", logger.F("task", c.name), logger.F("affected", n))
	return n, nil
}

func (c *CronTask) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(d):
		return true
	}
}
