package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"goim-confession/apps/confession-service/dao"
	"goim-confession/apps/confession-service/handler"
	"goim-confession/apps/confession-service/model"
	"goim-confession/apps/confession-service/notify"
	"goim-confession/apps/confession-service/service"
	"goim-confession/pkg/kafka"
	"goim-confession/pkg/lifecycle"
	"goim-confession/pkg/logger"
	"goim-confession/pkg/server"
)

const serviceName = "confession-service"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// 创建应用程序
	app, err := server.NewApplication(serviceName)
	if err != nil {
		return err
	}
	cfg := app.GetConfig()
	log := app.GetLogger()
	m := app.GetMetrics()

	// 启用HTTP和gRPC服务器
	app.EnableHTTP()
	app.EnableGRPC()

	// 自动迁移数据库表结构
	db := app.GetDatabase()
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// 初始化DAO层
	repos, err := dao.NewRepositories(db, app.GetRedisClient(), cfg.Throttle.Backend)
	if err != nil {
		return err
	}

	// 通知投递：启用Kafka时频道推送经由消费者回到Hub，否则直接写入Hub
	hub := notify.NewHub(log, m)
	var sink notify.Sink
	if producer := app.GetKafkaProducer(); producer != nil {
		sink = notify.NewKafkaSink(producer, cfg.Kafka.Topic, clock.RealClock{})
		if err := startFeedRelay(app, hub, log); err != nil {
			return err
		}
	} else {
		sink = notify.Tee(notify.NewLogSink(log), hub)
	}

	dispatcher := notify.NewDispatcher(cfg.Notify.Workers, cfg.Notify.QueueSize, log, m)
	app.AddHook(lifecycle.Hook{
		Name:     "dispatcher",
		Priority: server.PriorityDelivery,
		OnStart: func(ctx context.Context) error {
			dispatcher.Start()
			return nil
		},
		OnStop: dispatcher.Stop,
	})
	app.AddHook(lifecycle.Hook{
		Name:     "feed-hub",
		Priority: server.PriorityDelivery,
		OnStop: func(ctx context.Context) error {
			hub.Close()
			return nil
		},
	})

	// 初始化Service层
	svc, err := service.NewService(repos, sink, dispatcher, clock.RealClock{}, log, m, service.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}

	// 广播独立通道，停止时未送达的接收者记为dropped
	broadcaster := svc.Broadcaster()
	app.AddHook(lifecycle.Hook{
		Name:     "broadcaster",
		Priority: server.PriorityDelivery,
		OnStart: func(ctx context.Context) error {
			broadcaster.Start()
			return nil
		},
		OnStop: broadcaster.Stop,
	})

	// 限流窗口压缩
	compactor, err := service.NewCompactor(svc.Limiter(), cfg.Compaction.Cron, clock.RealClock{}, log)
	if err != nil {
		return err
	}
	app.Go("compactor", func(ctx context.Context) error {
		compactor.Run(ctx)
		return nil
	})

	// 发件箱重投
	redeliverer, err := service.NewRedeliverer(svc, cfg.Notify.RetryCron, clock.RealClock{}, log)
	if err != nil {
		return err
	}
	app.Go("redelivery", func(ctx context.Context) error {
		redeliverer.Run(ctx)
		return nil
	})

	// 注册HTTP、gRPC路由与频道订阅
	httpHandler := handler.NewHTTPHandler(svc, app.GetAuthMiddleware(), log)
	app.RegisterHTTPRoutes(httpHandler.RegisterRoutes)
	app.RegisterGRPCService(handler.NewGRPCHandler(svc, log).Register)
	app.WebSocket().RegisterHandler("/ws/feed", hub)

	// 运行应用程序
	return app.Run()
}

// startFeedRelay 每个实例独立消费组，保证所有实例的订阅者都能收到频道推送
func startFeedRelay(app *server.Application, hub *notify.Hub, log logger.Logger) error {
	cfg := app.GetConfig()
	groupID := fmt.Sprintf("%s-feed-%s", serviceName, uuid.NewString()[:8])
	consumer, err := kafka.InitConsumer(kafka.KafkaConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: groupID,
		Topics:  []string{cfg.Kafka.Topic},
	}, notify.NewFeedRelay(hub), func(err error) {
		log.Warn(context.Background(), "Feed relay error", logger.Err(err))
	})
	if err != nil {
		return fmt.Errorf("failed to create feed consumer: %w", err)
	}

	app.AddHook(lifecycle.Hook{
		Name:     "feed-relay",
		Priority: server.PriorityDelivery,
		OnStart: func(ctx context.Context) error {
			app.Go("feed-relay", consumer.StartConsuming)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return consumer.Close()
		},
	})
	return nil
}
