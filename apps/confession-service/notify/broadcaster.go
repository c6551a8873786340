package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/logger"
	"goim-confession/pkg/metrics"
)

// ErrBroadcasterStopped 广播通道已关闭
var ErrBroadcasterStopped = errors.New("broadcaster stopped")

// DefaultBroadcastBacklog 排队中的广播数上限，超过时入队阻塞
const DefaultBroadcastBacklog = 16

// Campaign 一次广播
type Campaign struct {
	ID         string
	Text       string
	Recipients []string
}

// Broadcaster 广播专用通道。后台协程逐个接收者按速率投递，与副作用队列互不影响
type Broadcaster struct {
	sink    Sink
	pacer   *rate.Limiter
	logger  logger.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	campaigns chan Campaign
	quit      chan struct{}
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	mu       sync.RWMutex
	running  bool
	closed   bool
	stopOnce sync.Once
	pending  sync.WaitGroup
}

// NewBroadcaster rps<=0 表示不限速
func NewBroadcaster(sink Sink, rps float64, backlog int, log logger.Logger, m *metrics.Metrics) *Broadcaster {
	if backlog < 1 {
		backlog = DefaultBroadcastBacklog
	}
	pacer := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		pacer = rate.NewLimiter(rate.Limit(rps), 1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broadcaster{
		sink:      sink,
		pacer:     pacer,
		logger:    log,
		metrics:   m,
		timeout:   DefaultJobTimeout,
		campaigns: make(chan Campaign, backlog),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start 启动投递协程
func (b *Broadcaster) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running || b.closed {
		return
	}
	b.running = true
	go b.loop()
}

// Enqueue 排队一次广播，队列满时阻塞直到有空位、ctx取消或通道关闭
func (b *Broadcaster) Enqueue(ctx context.Context, campaign Campaign) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBroadcasterStopped
	}

	b.pending.Add(1)
	select {
	case b.campaigns <- campaign:
		return nil
	case <-b.quit:
		b.pending.Done()
		return ErrBroadcasterStopped
	case <-ctx.Done():
		b.pending.Done()
		return ctx.Err()
	}
}

// Wait 等待已排队的广播全部投递完
func (b *Broadcaster) Wait() {
	b.pending.Wait()
}

// Stop 中止投递，未送达的接收者记为dropped
func (b *Broadcaster) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		close(b.quit)
		b.cancel()
	})

	b.mu.Lock()
	b.closed = true
	running := b.running
	b.mu.Unlock()

	if running {
		select {
		case <-b.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case campaign := <-b.campaigns:
			b.abandon(campaign, 0)
		default:
			return nil
		}
	}
}

func (b *Broadcaster) loop() {
	defer close(b.done)
	for {
		select {
		case <-b.quit:
			return
		case campaign := <-b.campaigns:
			b.deliver(campaign)
		}
	}
}

// deliver 每个接收者独立投递，单个失败不影响其他人
func (b *Broadcaster) deliver(campaign Campaign) {
	var sent, failed int
	for i, userID := range campaign.Recipients {
		if err := b.pacer.Wait(b.ctx); err != nil {
			b.abandon(campaign, i)
			return
		}
		if err := b.send(userID, campaign.Text); err != nil {
			failed++
			b.record("failed")
			b.logger.Warn(context.Background(), "broadcast delivery failed",
				logger.F("broadcastID", campaign.ID),
				logger.Err(&model.DeliveryError{Target: userID, Err: err}))
			continue
		}
		sent++
		b.record("ok")
	}

	b.logger.Info(context.Background(), "Broadcast finished",
		logger.F("broadcastID", campaign.ID),
		logger.F("sent", sent),
		logger.F("failed", failed))
	b.pending.Done()
}

func (b *Broadcaster) send(userID, text string) (err error) {
	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return b.sink.SendToUser(ctx, userID, text)
}

// abandon 从from开始的接收者不再投递
func (b *Broadcaster) abandon(campaign Campaign, from int) {
	left := len(campaign.Recipients) - from
	if b.metrics != nil {
		b.metrics.Deliveries.WithLabelValues(model.EventBroadcast, "dropped").Add(float64(left))
	}
	b.logger.Warn(context.Background(), "broadcast interrupted by shutdown",
		logger.F("broadcastID", campaign.ID),
		logger.F("undelivered", left))
	b.pending.Done()
}

func (b *Broadcaster) record(outcome string) {
	if b.metrics != nil {
		b.metrics.Deliveries.WithLabelValues(model.EventBroadcast, outcome).Inc()
	}
}
