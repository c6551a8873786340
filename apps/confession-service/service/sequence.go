package service

import (
	"context"

	"k8s.io/utils/clock"

	"goim-confession/apps/confession-service/dao"
)

// SequenceAllocator 公开序号分配。审核通过时由ConfessionDAO在同一事务内分配，
// 这里提供独立分配与当前值查询
type SequenceAllocator struct {
	dao   dao.SequenceDAO
	clock clock.PassiveClock
}

// NewSequenceAllocator 创建序号分配器
func NewSequenceAllocator(d dao.SequenceDAO, clk clock.PassiveClock) *SequenceAllocator {
	return &SequenceAllocator{dao: d, clock: clk}
}

// AllocateNext 返回下一个序号，重试用尽时返回StoreConflictError
func (a *SequenceAllocator) AllocateNext(ctx context.Context) (int64, error) {
	n, err := a.dao.AllocateNext(ctx, a.clock.Now())
	if err != nil {
		return 0, storeError("allocate sequence", err)
	}
	return n, nil
}

// Current 当前计数值
func (a *SequenceAllocator) Current(ctx context.Context) (int64, error) {
	return a.dao.Current(ctx)
}
