package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Options 数据库连接参数
type Options struct {
	Driver string // postgres | sqlite
	DSN    string
	Debug  bool
	// 事务冲突时的最大尝试次数
	MaxAttempts int
}

// Database 关系型存储连接管理器
type Database struct {
	db          *gorm.DB
	sqlDB       *sql.DB
	driver      string
	maxAttempts int
}

// Open 按驱动打开数据库连接
func Open(opts Options) (*Database, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "postgres":
		dialector = postgres.Open(opts.DSN)
	case "sqlite":
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	logLevel := gormlogger.Silent
	if opts.Debug {
		logLevel = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if opts.Driver == "sqlite" {
		// SQLite只允许单写者，单连接避免锁竞争
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping %s: %w", opts.Driver, err)
	}

	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = DefaultMaxAttempts
	}
	return &Database{db: db, sqlDB: sqlDB, driver: opts.Driver, maxAttempts: attempts}, nil
}

// GetDB 获取GORM数据库实例
func (d *Database) GetDB() *gorm.DB {
	return d.db
}

// Driver 驱动名称
func (d *Database) Driver() string {
	return d.driver
}

// WithContext 使用上下文
func (d *Database) WithContext(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx)
}

// Transaction 在可重试事务中执行fn
func (d *Database) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return RunInTx(ctx, d.db, d.maxAttempts, fn)
}

// AutoMigrate 自动迁移表结构
func (d *Database) AutoMigrate(models ...interface{}) error {
	return d.db.AutoMigrate(models...)
}

// Health 健康检查
func (d *Database) Health(ctx context.Context) error {
	return d.sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (d *Database) Close() error {
	if d.sqlDB != nil {
		return d.sqlDB.Close()
	}
	return nil
}
