package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/logger"
	"goim-confession/pkg/metrics"
)

// DefaultJobTimeout 单个任务超时
const DefaultJobTimeout = 10 * time.Second

// Job 一个尽力而为的副作用，每个接收者一个
type Job struct {
	Kind   string
	Target string
	Run    func(ctx context.Context) error
}

// Dispatcher 副作用工作池。入队不阻塞，队列满时丢弃并记录
type Dispatcher struct {
	logger  logger.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	workers int

	jobs    chan Job
	mu      sync.RWMutex
	closed  bool
	started sync.Once
	wg      sync.WaitGroup
	pending sync.WaitGroup
}

// NewDispatcher 创建工作池
func NewDispatcher(workers, queueSize int, log logger.Logger, m *metrics.Metrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		logger:  log,
		metrics: m,
		timeout: DefaultJobTimeout,
		workers: workers,
		jobs:    make(chan Job, queueSize),
	}
}

// Start 启动工作协程
func (d *Dispatcher) Start() {
	d.started.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.work()
		}
	})
}

// Submit 入队，队列满或已停止时返回false
func (d *Dispatcher) Submit(job Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.record(job.Kind, "dropped")
		return false
	}

	d.pending.Add(1)
	select {
	case d.jobs <- job:
		return true
	default:
		d.pending.Done()
		d.record(job.Kind, "dropped")
		d.logger.Warn(context.Background(), "dispatch queue full, side effect dropped",
			logger.F("kind", job.Kind), logger.F("target", job.Target))
		return false
	}
}

// Wait 等待已入队任务全部完成
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

// Stop 停止接收新任务，排空队列后返回
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.run(job)
	}
}

func (d *Dispatcher) run(job Job) {
	defer d.pending.Done()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return job.Run(ctx)
	}()
	if err != nil {
		d.record(job.Kind, "failed")
		d.logger.Warn(ctx, "side effect failed",
			logger.F("kind", job.Kind),
			logger.Err(&model.DeliveryError{Target: job.Target, Err: err}))
		return
	}
	d.record(job.Kind, "ok")
}

func (d *Dispatcher) record(kind, outcome string) {
	if d.metrics != nil {
		d.metrics.Deliveries.WithLabelValues(kind, outcome).Inc()
	}
}
