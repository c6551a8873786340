package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App        AppConfig
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Confession ConfessionConfig
	Comment    CommentConfig
	Reputation ReputationConfig
	Throttle   ThrottleConfig
	Compaction CompactionConfig
	Notify     NotifyConfig
	Channel    ChannelConfig
	Admin      AdminConfig
	Auth       AuthConfig
	Logger     LoggerConfig
	Telemetry  TelemetryConfig
}

// AppConfig 应用配置
type AppConfig struct {
	Name    string
	Version string
	Mode    string
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPConfig
	GRPC GRPCConfig
}

// HTTPConfig HTTP服务配置
type HTTPConfig struct {
	Addr    string
	Timeout time.Duration
	// 每个IP每秒请求数
	IngressRPS   float64
	IngressBurst int
	CORSOrigin   string
}

// GRPCConfig gRPC服务配置
type GRPCConfig struct {
	Addr string
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver      string // postgres | sqlite
	DSN         string
	MaxAttempts int
	Debug       bool
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// ConfessionConfig 投稿配置
type ConfessionConfig struct {
	Cooldown  time.Duration
	MinLength int
	MaxLength int
}

// CommentConfig 评论配置
type CommentConfig struct {
	Window    time.Duration
	MaxCount  int
	MinLength int
	MaxLength int
}

// ReputationConfig 声望奖励
type ReputationConfig struct {
	Approve int64
	Comment int64
}

// ThrottleConfig 冷却与限流存储后端
type ThrottleConfig struct {
	Backend string // sql | redis
}

// CompactionConfig 限流窗口压缩任务
type CompactionConfig struct {
	Cron   string
	Window time.Duration
}

// NotifyConfig 通知派发配置
type NotifyConfig struct {
	Workers      int
	QueueSize    int
	BroadcastRPS float64
	RetryCron    string // 发件箱重投
	MaxAttempts  int
}

// ChannelConfig 发布频道
type ChannelConfig struct {
	ID string
}

// AdminConfig 管理员
type AdminConfig struct {
	IDs []string
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret string
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level string
}

// TelemetryConfig 链路追踪配置
type TelemetryConfig struct {
	Exporter   string
	SampleRate float64
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper, serviceName string) {
	v.SetDefault("app.name", serviceName)
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.mode", "debug")

	v.SetDefault("server.http.addr", ":21020")
	v.SetDefault("server.http.timeout", "30s")
	v.SetDefault("server.http.ingress_rps", 10.0)
	v.SetDefault("server.http.ingress_burst", 30)
	v.SetDefault("server.http.cors_origin", "*")
	v.SetDefault("server.grpc.addr", ":22020")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:confessions.db?_pragma=busy_timeout(5000)")
	v.SetDefault("database.max_attempts", 5)
	v.SetDefault("database.debug", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "confession-deliveries")

	v.SetDefault("confession.cooldown", "60s")
	v.SetDefault("confession.min_length", 5)
	v.SetDefault("confession.max_length", 1000)

	v.SetDefault("comment.window", "30s")
	v.SetDefault("comment.max_count", 3)
	v.SetDefault("comment.min_length", 3)
	v.SetDefault("comment.max_length", 500)

	v.SetDefault("reputation.approve", 10)
	v.SetDefault("reputation.comment", 5)

	v.SetDefault("throttle.backend", "sql")

	v.SetDefault("compaction.cron", "*/5 * * * *")

	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queue_size", 1024)
	v.SetDefault("notify.broadcast_rps", 25.0)
	v.SetDefault("notify.retry_cron", "* * * * *")
	v.SetDefault("notify.max_attempts", 8)

	v.SetDefault("channel.id", "confessions")
	v.SetDefault("admin.ids", []string{})
	v.SetDefault("auth.jwt_secret", "focusandinsist")

	v.SetDefault("logger.level", "info")
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.sample_rate", 1.0)
}

// LoadConfig 从配置文件、.env 与环境变量加载配置
func LoadConfig(serviceName string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, serviceName)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Println("Config file not found, using default values")
	}

	return fromViper(v)
}

// fromViper 将viper中的值映射为Config
func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:    v.GetString("app.name"),
			Version: v.GetString("app.version"),
			Mode:    v.GetString("app.mode"),
		},
		Server: ServerConfig{
			HTTP: HTTPConfig{
				Addr:         v.GetString("server.http.addr"),
				Timeout:      v.GetDuration("server.http.timeout"),
				IngressRPS:   v.GetFloat64("server.http.ingress_rps"),
				IngressBurst: v.GetInt("server.http.ingress_burst"),
				CORSOrigin:   v.GetString("server.http.cors_origin"),
			},
			GRPC: GRPCConfig{Addr: v.GetString("server.grpc.addr")},
		},
		Database: DatabaseConfig{
			Driver:      v.GetString("database.driver"),
			DSN:         v.GetString("database.dsn"),
			MaxAttempts: v.GetInt("database.max_attempts"),
			Debug:       v.GetBool("database.debug"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Kafka: KafkaConfig{
			Enabled: v.GetBool("kafka.enabled"),
			Brokers: v.GetStringSlice("kafka.brokers"),
			Topic:   v.GetString("kafka.topic"),
		},
		Confession: ConfessionConfig{
			Cooldown:  v.GetDuration("confession.cooldown"),
			MinLength: v.GetInt("confession.min_length"),
			MaxLength: v.GetInt("confession.max_length"),
		},
		Comment: CommentConfig{
			Window:    v.GetDuration("comment.window"),
			MaxCount:  v.GetInt("comment.max_count"),
			MinLength: v.GetInt("comment.min_length"),
			MaxLength: v.GetInt("comment.max_length"),
		},
		Reputation: ReputationConfig{
			Approve: v.GetInt64("reputation.approve"),
			Comment: v.GetInt64("reputation.comment"),
		},
		Throttle:   ThrottleConfig{Backend: v.GetString("throttle.backend")},
		Compaction: CompactionConfig{Cron: v.GetString("compaction.cron")},
		Notify: NotifyConfig{
			Workers:      v.GetInt("notify.workers"),
			QueueSize:    v.GetInt("notify.queue_size"),
			BroadcastRPS: v.GetFloat64("notify.broadcast_rps"),
			RetryCron:    v.GetString("notify.retry_cron"),
			MaxAttempts:  v.GetInt("notify.max_attempts"),
		},
		Channel:   ChannelConfig{ID: v.GetString("channel.id")},
		Admin:     AdminConfig{IDs: v.GetStringSlice("admin.ids")},
		Auth:      AuthConfig{JWTSecret: v.GetString("auth.jwt_secret")},
		Logger:    LoggerConfig{Level: v.GetString("logger.level")},
		Telemetry: TelemetryConfig{Exporter: v.GetString("telemetry.exporter"), SampleRate: v.GetFloat64("telemetry.sample_rate")},
	}
	cfg.Compaction.Window = cfg.Comment.Window

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	switch c.Throttle.Backend {
	case "sql", "redis":
	default:
		return fmt.Errorf("unsupported throttle.backend %q", c.Throttle.Backend)
	}
	if c.Database.MaxAttempts < 1 {
		return fmt.Errorf("database.max_attempts must be >= 1")
	}
	if c.Notify.MaxAttempts < 1 {
		return fmt.Errorf("notify.max_attempts must be >= 1")
	}
	if c.Comment.MaxCount < 1 {
		return fmt.Errorf("comment.max_count must be >= 1")
	}
	if c.Confession.MinLength < 1 || c.Confession.MaxLength < c.Confession.MinLength {
		return fmt.Errorf("invalid confession length bounds %d..%d", c.Confession.MinLength, c.Confession.MaxLength)
	}
	return nil
}
