package dao

import (
	"context"
	"errors"
	"strconv"
	"time"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/redis"
	"goim-confession/pkg/utils"
)

type redisCooldownStore struct {
	rdb *redis.RedisClient
}

// NewRedisCooldownStore Redis冷却存储，每个用户一个hash，每个动作一个字段
func NewRedisCooldownStore(rdb *redis.RedisClient) CooldownStore {
	return &redisCooldownStore{rdb: rdb}
}

func cooldownKey(userID string) string {
	return model.CooldownKeyPrefix + userID
}

func (s *redisCooldownStore) LastAction(ctx context.Context, userID, kind string) (time.Time, bool, error) {
	raw, err := s.rdb.HGet(ctx, cooldownKey(userID), kind)
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return utils.FromUnixMs(ms), true, nil
}

// Touch HSET只写单个字段
func (s *redisCooldownStore) Touch(ctx context.Context, userID, kind string, at time.Time) error {
	return s.rdb.HSet(ctx, cooldownKey(userID), kind, utils.ToUnixMs(at))
}
