package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	kratoslog "github.com/go-kratos/kratos/v2/log"
)

// Server 通用服务器接口，Start阻塞直到服务器关闭
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ServerManager 统一服务器管理器
type ServerManager struct {
	logger  kratoslog.Logger
	servers map[string]Server
	order   []string
	onFail  func(name string, err error)
	mu      sync.RWMutex
}

// NewServerManager 创建服务器管理器，onFail在某个服务器异常退出时调用
func NewServerManager(logger kratoslog.Logger, onFail func(name string, err error)) *ServerManager {
	return &ServerManager{
		logger:  logger,
		servers: make(map[string]Server),
		onFail:  onFail,
	}
}

// Add 添加服务器，名称重复时返回错误
func (sm *ServerManager) Add(name string, server Server) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.servers[name]; ok {
		return fmt.Errorf("server %q already registered", name)
	}
	sm.servers[name] = server
	sm.order = append(sm.order, name)
	return nil
}

// Get 按名称获取服务器
func (sm *ServerManager) Get(name string) (Server, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.servers[name]
	return s, ok
}

// StartAll 在后台启动所有服务器
func (sm *ServerManager) StartAll(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, name := range sm.order {
		go func(name string, s Server) {
			if err := s.Start(ctx); err != nil {
				sm.logger.Log(kratoslog.LevelError, "msg", "Server exited", "name", name, "error", err)
				if sm.onFail != nil {
					sm.onFail(name, err)
				}
			}
		}(name, sm.servers[name])
	}

	sm.logger.Log(kratoslog.LevelInfo, "msg", "All servers started", "count", len(sm.order))
	return nil
}

// StopAll 逆序停止所有服务器
func (sm *ServerManager) StopAll(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var errs []error
	for i := len(sm.order) - 1; i >= 0; i-- {
		name := sm.order[i]
		if err := sm.servers[name].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
