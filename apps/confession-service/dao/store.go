package dao

import (
	"fmt"

	"goim-confession/pkg/database"
	"goim-confession/pkg/redis"
)

// Throttle backends
const (
	BackendSQL   = "sql"
	BackendRedis = "redis"
)

// NewRepositories 组装存储，冷却与限流记录按backend选择关系库或Redis
func NewRepositories(db *database.Database, rdb *redis.RedisClient, backend string) (*Repositories, error) {
	repos := &Repositories{
		Confessions: NewConfessionDAO(db),
		Sequence:    NewSequenceDAO(db),
		Comments:    NewCommentDAO(db),
		Users:       NewUserDAO(db),
		Sessions:    NewRedisSessionStore(rdb, DefaultSessionTTL),
		Outbox:      NewOutboxDAO(db),
		Backend:     backend,
	}

	switch backend {
	case "":
		repos.Backend = BackendSQL
		fallthrough
	case BackendSQL:
		repos.Cooldowns = NewSQLCooldownStore(db)
		repos.RateWindows = NewSQLRateWindowStore(db)
	case BackendRedis:
		repos.Cooldowns = NewRedisCooldownStore(rdb)
		repos.RateWindows = NewRedisRateWindowStore(rdb)
	default:
		return nil, fmt.Errorf("unsupported throttle backend %q", backend)
	}
	return repos, nil
}
