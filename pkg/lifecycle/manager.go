package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	kratoslog "github.com/go-kratos/kratos/v2/log"
)

// DefaultStopTimeout 停止钩子的总超时
const DefaultStopTimeout = 30 * time.Second

// LifecycleManager 生命周期管理器
type LifecycleManager struct {
	logger      kratoslog.Logger
	hooks       []Hook
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	stopOnce    sync.Once
	background  sync.WaitGroup
	stopTimeout time.Duration
}

// Hook 生命周期钩子
type Hook struct {
	Name     string                      // 钩子名称
	OnStart  func(context.Context) error // 启动时执行的函数
	OnStop   func(context.Context) error // 停止时执行的函数
	Priority int                         // 优先级，数字越小越先启动、越后停止
	// Priority分级:
	// 0-49:    基础设施层（数据库、Redis、Kafka连接）
	// 50-99:   派发与推送（通知队列、订阅Hub、Kafka消费）
	// 100-199: 服务器层（HTTP、gRPC、WebSocket服务器）
}

// NewLifecycleManager 创建生命周期管理器
func NewLifecycleManager(logger kratoslog.Logger) *LifecycleManager {
	ctx, cancel := context.WithCancel(context.Background())

	return &LifecycleManager{
		logger:      logger,
		hooks:       make([]Hook, 0),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		stopTimeout: DefaultStopTimeout,
	}
}

// SetStopTimeout 设置停止超时
func (lm *LifecycleManager) SetStopTimeout(d time.Duration) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.stopTimeout = d
}

// AddHook 添加生命周期钩子，同优先级按添加顺序执行
func (lm *LifecycleManager) AddHook(hook Hook) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.hooks = append(lm.hooks, hook)
	sort.SliceStable(lm.hooks, func(i, j int) bool {
		return lm.hooks[i].Priority < lm.hooks[j].Priority
	})
}

// Go 启动后台任务，Stop时先取消上下文并等待任务退出再执行停止钩子
func (lm *LifecycleManager) Go(name string, fn func(ctx context.Context) error) {
	lm.background.Add(1)
	go func() {
		defer lm.background.Done()
		if err := fn(lm.ctx); err != nil && !errors.Is(err, context.Canceled) {
			lm.logger.Log(kratoslog.LevelError, "msg", "Background task failed", "name", name, "error", err)
			return
		}
		lm.logger.Log(kratoslog.LevelDebug, "msg", "Background task exited", "name", name)
	}()
}

// Start 按优先级启动所有钩子，失败时回滚已启动的钩子
func (lm *LifecycleManager) Start() error {
	lm.mu.RLock()
	hooks := append([]Hook(nil), lm.hooks...)
	lm.mu.RUnlock()

	lm.logger.Log(kratoslog.LevelInfo, "msg", "Starting lifecycle hooks", "count", len(hooks))

	for i, hook := range hooks {
		if hook.OnStart == nil {
			continue
		}
		lm.logger.Log(kratoslog.LevelInfo, "msg", "Starting hook", "name", hook.Name)
		if err := hook.OnStart(lm.ctx); err != nil {
			lm.logger.Log(kratoslog.LevelError, "msg", "Hook start failed", "name", hook.Name, "error", err)
			lm.stopHooks(hooks[:i])
			return err
		}
	}

	lm.logger.Log(kratoslog.LevelInfo, "msg", "All lifecycle hooks started")
	return nil
}

// Stop 停止所有钩子，可重复调用
func (lm *LifecycleManager) Stop() error {
	var stopErr error

	lm.stopOnce.Do(func() {
		lm.mu.RLock()
		hooks := append([]Hook(nil), lm.hooks...)
		lm.mu.RUnlock()

		lm.logger.Log(kratoslog.LevelInfo, "msg", "Stopping lifecycle hooks")

		lm.cancel()
		lm.waitBackground()
		stopErr = lm.stopHooks(hooks)
		close(lm.done)

		lm.logger.Log(kratoslog.LevelInfo, "msg", "All lifecycle hooks stopped")
	})

	return stopErr
}

// stopHooks 反向停止钩子（后启动的先停止），返回第一个错误
func (lm *LifecycleManager) stopHooks(hooks []Hook) error {
	lm.mu.RLock()
	timeout := lm.stopTimeout
	lm.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		if hook.OnStop == nil {
			continue
		}
		lm.logger.Log(kratoslog.LevelInfo, "msg", "Stopping hook", "name", hook.Name)
		if err := hook.OnStop(ctx); err != nil {
			lm.logger.Log(kratoslog.LevelError, "msg", "Hook stop failed", "name", hook.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (lm *LifecycleManager) waitBackground() {
	finished := make(chan struct{})
	go func() {
		lm.background.Wait()
		close(finished)
	}()

	lm.mu.RLock()
	timeout := lm.stopTimeout
	lm.mu.RUnlock()

	select {
	case <-finished:
	case <-time.After(timeout):
		lm.logger.Log(kratoslog.LevelWarn, "msg", "Background tasks did not exit in time")
	}
}

// Wait 等待停止信号或Stop被调用
func (lm *LifecycleManager) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		lm.logger.Log(kratoslog.LevelInfo, "msg", "Received signal", "signal", sig.String())
		lm.Stop()
	case <-lm.done:
	}
}

// Context 获取生命周期上下文
func (lm *LifecycleManager) Context() context.Context {
	return lm.ctx
}

// Done 获取完成通道
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.done
}

// IsRunning 检查是否正在运行
func (lm *LifecycleManager) IsRunning() bool {
	select {
	case <-lm.done:
		return false
	default:
		return true
	}
}
