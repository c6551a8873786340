package dao

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/redis"
)

// DefaultSessionTTL 会话过期时间
const DefaultSessionTTL = 30 * time.Minute

type redisSessionStore struct {
	rdb *redis.RedisClient
	ttl time.Duration
}

// NewRedisSessionStore Redis会话存储
func NewRedisSessionStore(rdb *redis.RedisClient, ttl time.Duration) SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &redisSessionStore{rdb: rdb, ttl: ttl}
}

func sessionKey(userID string) string {
	return model.SessionKeyPrefix + userID
}

// Get 不存在或已过期时返回空闲会话
func (s *redisSessionStore) Get(ctx context.Context, userID string) (model.Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(userID))
	if errors.Is(err, redis.Nil) {
		return model.IdleSession(), nil
	}
	if err != nil {
		return model.Session{}, err
	}

	var session model.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return model.Session{}, err
	}
	return session, nil
}

func (s *redisSessionStore) Set(ctx context.Context, userID string, session model.Session) error {
	if session.State == model.SessionIdle {
		return s.Clear(ctx, userID)
	}
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, sessionKey(userID), data, s.ttl)
}

func (s *redisSessionStore) Clear(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, sessionKey(userID))
}
