package dao

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/redis"
	"goim-confession/pkg/utils"
)

type redisRateWindowStore struct {
	rdb *redis.RedisClient
}

// NewRedisRateWindowStore Redis限流窗口，有序集合以毫秒为分数
func NewRedisRateWindowStore(rdb *redis.RedisClient) RateWindowStore {
	return &redisRateWindowStore{rdb: rdb}
}

func rateWindowKey(action, userID string) string {
	return model.RateWindowKeyPrefix + action + ":" + userID
}

// Append 成员带随机后缀，同一毫秒的并发追加不会合并
func (s *redisRateWindowStore) Append(ctx context.Context, userID, action string, at time.Time) error {
	ms := utils.ToUnixMs(at)
	return s.rdb.ZAdd(ctx, rateWindowKey(action, userID), &goredis.Z{
		Score:  float64(ms),
		Member: fmt.Sprintf("%d:%s", ms, uuid.NewString()),
	})
}

func (s *redisRateWindowStore) Since(ctx context.Context, userID, action string, since time.Time) ([]time.Time, error) {
	members, err := s.rdb.ZRangeByScore(ctx, rateWindowKey(action, userID), &goredis.ZRangeBy{
		Min: "(" + strconv.FormatInt(utils.ToUnixMs(since), 10),
		Max: "+inf",
	})
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, len(members))
	for _, member := range members {
		raw, _, _ := strings.Cut(member, ":")
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed rate window member %q: %w", member, err)
		}
		out = append(out, utils.FromUnixMs(ms))
	}
	return out, nil
}

func (s *redisRateWindowStore) Compact(ctx context.Context, userID, action string, before time.Time) (int64, error) {
	return s.rdb.ZRemRangeByScore(ctx, rateWindowKey(action, userID), "-inf", strconv.FormatInt(utils.ToUnixMs(before), 10))
}

func (s *redisRateWindowStore) CompactAll(ctx context.Context, action string, before time.Time) (int64, error) {
	var removed int64
	upper := strconv.FormatInt(utils.ToUnixMs(before), 10)
	err := s.rdb.ScanKeys(ctx, model.RateWindowKeyPrefix+action+":*", func(key string) error {
		n, err := s.rdb.ZRemRangeByScore(ctx, key, "-inf", upper)
		if err != nil {
			return err
		}
		removed += n
		return nil
	})
	return removed, err
}
