package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"
	"google.golang.org/grpc"

	"goim-confession/pkg/config"
	"goim-confession/pkg/database"
	"goim-confession/pkg/kafka"
	"goim-confession/pkg/lifecycle"
	"goim-confession/pkg/logger"
	"goim-confession/pkg/metrics"
	"goim-confession/pkg/middleware"
	"goim-confession/pkg/redis"
	"goim-confession/pkg/telemetry"
)

// 优先级约定见 lifecycle.Hook
const (
	PriorityInfrastructure = 0
	PriorityDelivery       = 50
	PriorityServers        = 100
)

// Application 应用程序框架
type Application struct {
	serviceName    string
	config         *config.Config
	logger         kratoslog.Logger
	originalLogger logger.Logger
	metrics        *metrics.Metrics
	serverManager  *ServerManager
	lifecycle      *lifecycle.LifecycleManager

	// 服务器
	httpServer *HTTPServerWrapper
	grpcServer *GRPCServerWrapper
	webSocket  *WebSocketServerWrapper

	// 基础设施组件
	database      *database.Database
	redisClient   *redis.RedisClient
	kafkaProducer *kafka.Producer

	// 中间件
	authMiddleware    *middleware.AuthMiddleware
	loggingMiddleware *middleware.LoggingMiddleware
	otelMiddleware    *middleware.OTelMiddleware
	ipLimiter         *middleware.IPRateLimiter

	healthChecks map[string]HealthCheck
}

// NewApplication 加载配置并创建应用程序
func NewApplication(serviceName string) (*Application, error) {
	cfg, err := config.LoadConfig(serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewApplicationWithConfig(serviceName, cfg)
}

// NewApplicationWithConfig 使用给定配置创建应用程序
func NewApplicationWithConfig(serviceName string, cfg *config.Config) (*Application, error) {
	if err := logger.Init(cfg.Logger.Level); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	originalLogger := logger.GetLogger().With(logger.F("service", serviceName))
	kratosLogger := kratoslog.With(logger.NewKratosLogger(originalLogger), "service.version", cfg.App.Version)

	if err := telemetry.InitGlobal(&telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Mode,
		ExporterType:   cfg.Telemetry.Exporter,
		SampleRate:     cfg.Telemetry.SampleRate,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if cfg.App.Mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	app := &Application{
		serviceName:       serviceName,
		config:            cfg,
		logger:            kratosLogger,
		originalLogger:    originalLogger,
		metrics:           metrics.New(strings.ReplaceAll(serviceName, "-", "_")),
		lifecycle:         lifecycle.NewLifecycleManager(kratosLogger),
		authMiddleware:    middleware.NewAuthMiddleware(kratosLogger, cfg.Auth.JWTSecret, cfg.Admin.IDs),
		loggingMiddleware: middleware.NewLoggingMiddleware(kratosLogger),
		otelMiddleware:    middleware.NewOTelMiddleware(serviceName),
		ipLimiter:         middleware.NewIPRateLimiter(cfg.Server.HTTP.IngressRPS, cfg.Server.HTTP.IngressBurst),
		healthChecks:      make(map[string]HealthCheck),
	}
	app.serverManager = NewServerManager(kratosLogger, func(name string, err error) {
		// 任一服务器异常退出时整体停机
		go app.lifecycle.Stop()
	})

	if err := app.initInfrastructure(); err != nil {
		return nil, err
	}
	return app, nil
}

// initInfrastructure 初始化基础设施组件
func (app *Application) initInfrastructure() error {
	db, err := database.Open(database.Options{
		Driver:      app.config.Database.Driver,
		DSN:         app.config.Database.DSN,
		Debug:       app.config.Database.Debug,
		MaxAttempts: app.config.Database.MaxAttempts,
	})
	if err != nil {
		return err
	}
	app.database = db
	app.healthChecks["database"] = db.Health

	app.redisClient = redis.NewRedisClient(redis.Options{
		Addr:     app.config.Redis.Addr,
		Password: app.config.Redis.Password,
		DB:       app.config.Redis.DB,
	})
	app.healthChecks["redis"] = app.redisClient.Ping

	if app.config.Kafka.Enabled {
		producer, err := kafka.InitProducer(app.config.Kafka.Brokers, func(msg *sarama.ProducerMessage, err error) {
			app.logger.Log(kratoslog.LevelError, "msg", "Kafka delivery failed", "topic", msg.Topic, "error", err)
		})
		if err != nil {
			db.Close()
			app.redisClient.Close()
			return fmt.Errorf("failed to connect to Kafka: %w", err)
		}
		app.kafkaProducer = producer
	}

	app.lifecycle.AddHook(lifecycle.Hook{
		Name:     "infrastructure",
		Priority: PriorityInfrastructure,
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := app.redisClient.Ping(pingCtx); err != nil {
				return fmt.Errorf("redis unreachable: %w", err)
			}
			return db.Health(pingCtx)
		},
		OnStop: func(ctx context.Context) error {
			if app.kafkaProducer != nil {
				if err := app.kafkaProducer.Close(); err != nil {
					app.logger.Log(kratoslog.LevelError, "msg", "Failed to close Kafka producer", "error", err)
				}
			}
			if err := app.redisClient.Close(); err != nil {
				app.logger.Log(kratoslog.LevelError, "msg", "Failed to close Redis", "error", err)
			}
			if err := telemetry.ShutdownGlobal(ctx); err != nil {
				app.logger.Log(kratoslog.LevelError, "msg", "Failed to shutdown telemetry", "error", err)
			}
			return db.Close()
		},
	})
	return nil
}

// EnableHTTP 启用HTTP服务器，并挂载通用中间件、/metrics 与 WebSocket
func (app *Application) EnableHTTP() HTTPServer {
	if app.httpServer != nil {
		return app.httpServer
	}

	middlewares := []gin.HandlerFunc{middleware.Recovery(app.originalLogger)}
	middlewares = append(middlewares, app.otelMiddleware.GinMiddleware()...)
	middlewares = append(middlewares,
		app.loggingMiddleware.GinLogging(),
		app.metrics.GinMiddleware(),
		app.ipLimiter.RateLimit(),
	)

	engine := NewGinEngine(app.config.Server.HTTP, app.healthChecks, middlewares...)
	engine.GET("/metrics", gin.WrapH(app.metrics.Handler()))

	app.httpServer = NewHTTPServerWrapper(app.config.Server.HTTP, engine, app.logger)
	app.webSocket = NewWebSocketServerWrapper(engine, app.config.Server.HTTP.CORSOrigin, app.logger)
	app.serverManager.Add("http", app.httpServer)

	// 定期清理IP限流表
	app.lifecycle.Go("ip-limiter-cleanup", func(ctx context.Context) error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				if n := app.ipLimiter.Cleanup(now); n > 0 {
					app.logger.Log(kratoslog.LevelDebug, "msg", "Evicted idle visitors", "count", n)
				}
			}
		}
	})

	return app.httpServer
}

// EnableGRPC 启用gRPC服务器，内置追踪、日志、恢复与认证拦截器
func (app *Application) EnableGRPC() GRPCServer {
	if app.grpcServer != nil {
		return app.grpcServer
	}

	app.grpcServer = NewGRPCServerWrapper(app.config.Server.GRPC.Addr, app.logger,
		grpc.ChainUnaryInterceptor(
			app.otelMiddleware.GRPCUnaryServerInterceptor(),
			app.loggingMiddleware.GRPCLogging(),
			app.loggingMiddleware.GRPCRecovery(),
			app.authMiddleware.GRPCAuth(),
		),
		grpc.ChainStreamInterceptor(
			app.otelMiddleware.GRPCStreamServerInterceptor(),
			app.loggingMiddleware.GRPCStreamLogging(),
			app.loggingMiddleware.GRPCStreamRecovery(),
			app.authMiddleware.GRPCStreamAuth(),
		),
	)
	app.serverManager.Add("grpc", app.grpcServer)
	return app.grpcServer
}

// RegisterHTTPRoutes 注册HTTP路由
func (app *Application) RegisterHTTPRoutes(registerFunc func(*gin.Engine)) {
	app.EnableHTTP().RegisterRoutes(registerFunc)
}

// RegisterGRPCService 注册gRPC服务
func (app *Application) RegisterGRPCService(registerFunc func(*grpc.Server)) {
	app.EnableGRPC().RegisterService(registerFunc)
}

// WebSocket 获取WebSocket包装器，需先启用HTTP
func (app *Application) WebSocket() *WebSocketServerWrapper {
	app.EnableHTTP()
	return app.webSocket
}

// AddHook 添加业务生命周期钩子
func (app *Application) AddHook(hook lifecycle.Hook) {
	app.lifecycle.AddHook(hook)
}

// Go 启动随应用退出的后台任务
func (app *Application) Go(name string, fn func(ctx context.Context) error) {
	app.lifecycle.Go(name, fn)
}

// GetDatabase 获取数据库
func (app *Application) GetDatabase() *database.Database {
	return app.database
}

// GetRedisClient 获取Redis客户端
func (app *Application) GetRedisClient() *redis.RedisClient {
	return app.redisClient
}

// GetKafkaProducer 获取Kafka生产者，未启用时为nil
func (app *Application) GetKafkaProducer() *kafka.Producer {
	return app.kafkaProducer
}

// GetLogger 获取原有日志器
func (app *Application) GetLogger() logger.Logger {
	return app.originalLogger
}

// GetKratosLogger 获取Kratos日志器
func (app *Application) GetKratosLogger() kratoslog.Logger {
	return app.logger
}

// GetConfig 获取配置
func (app *Application) GetConfig() *config.Config {
	return app.config
}

// GetMetrics 获取指标
func (app *Application) GetMetrics() *metrics.Metrics {
	return app.metrics
}

// GetAuthMiddleware 获取认证中间件
func (app *Application) GetAuthMiddleware() *middleware.AuthMiddleware {
	return app.authMiddleware
}

// Run 运行应用程序，阻塞直到收到停止信号
func (app *Application) Run() error {
	app.lifecycle.AddHook(lifecycle.Hook{
		Name:     "servers",
		Priority: PriorityServers,
		OnStart: func(ctx context.Context) error {
			return app.serverManager.StartAll(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return app.serverManager.StopAll(ctx)
		},
	})

	if err := app.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle: %w", err)
	}
	app.logger.Log(kratoslog.LevelInfo, "msg", "Application started", "service", app.serviceName)

	app.lifecycle.Wait()
	return nil
}
