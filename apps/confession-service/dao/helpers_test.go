package dao

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/database"
	"goim-confession/pkg/redis"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *database.Database {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(database.Options{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestRedis(t *testing.T) (*redis.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewRedisClient(redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func newPending(t *testing.T, d ConfessionDAO, author, text string, tags ...string) *model.Confession {
	t.Helper()
	c := &model.Confession{
		ID:        uuid.NewString(),
		AuthorID:  author,
		Text:      text,
		Status:    model.ConfessionStatusPending,
		Hashtags:  tags,
		CreatedAt: baseTime,
	}
	require.NoError(t, d.CreateConfession(context.Background(), c, nil, nil))
	return c
}
