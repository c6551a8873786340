package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"goim-confession/apps/confession-service/dao"
	"goim-confession/apps/confession-service/model"
	"goim-confession/apps/confession-service/notify"
	"goim-confession/pkg/database"
	"goim-confession/pkg/logger"
	"goim-confession/pkg/metrics"
	"goim-confession/pkg/redis"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// recordingSink 记录所有投递，可指定失败的接收者
type recordingSink struct {
	mu       sync.Mutex
	failFor  map[string]bool
	users    map[string][]string
	channel  []string
	edits    map[notify.MessageHandle][]string
	handleNo int
}

func newRecordingSink(failFor ...string) *recordingSink {
	s := &recordingSink{
		failFor: map[string]bool{},
		users:   map[string][]string{},
		edits:   map[notify.MessageHandle][]string{},
	}
	for _, id := range failFor {
		s.failFor[id] = true
	}
	return s
}

func (s *recordingSink) SendToUser(ctx context.Context, userID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[userID] {
		return errors.New("recipient unreachable")
	}
	s.users[userID] = append(s.users[userID], text)
	return nil
}

func (s *recordingSink) SendToChannel(ctx context.Context, channelID, text string) (notify.MessageHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[channelID] {
		return "", errors.New("channel unreachable")
	}
	s.handleNo++
	s.channel = append(s.channel, text)
	return notify.MessageHandle(fmt.Sprintf("msg-%d", s.handleNo)), nil
}

func (s *recordingSink) EditChannelMessage(ctx context.Context, handle notify.MessageHandle, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits[handle] = append(s.edits[handle], text)
	return nil
}

// setFailing 切换某个接收者是否不可达
func (s *recordingSink) setFailing(id string, failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFor[id] = failing
}

func (s *recordingSink) userMessages(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users[userID]...)
}

func (s *recordingSink) channelPosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.channel...)
}

func (s *recordingSink) editsFor(handle notify.MessageHandle) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.edits[handle]...)
}

type fixture struct {
	svc        *Service
	db         *database.Database
	repos      *dao.Repositories
	sink       *recordingSink
	clock      *testingclock.FakeClock
	dispatcher *notify.Dispatcher
	metrics    *metrics.Metrics
	redis      *miniredis.Miniredis
}

// wait 等待所有副作用与广播完成
func (f *fixture) wait() {
	if f.dispatcher != nil {
		f.dispatcher.Wait()
	}
	f.svc.Broadcaster().Wait()
}

type fixtureConfig struct {
	opts         Options
	maxAttempts  int
	queueSize    int
	noDispatcher bool
	backend      string
}

type fixtureOption func(*fixtureConfig)

func withAdmins(ids ...string) fixtureOption {
	return func(c *fixtureConfig) { c.opts.AdminIDs = ids }
}

// withMaxAttempts 事务重试次数
func withMaxAttempts(n int) fixtureOption {
	return func(c *fixtureConfig) { c.maxAttempts = n }
}

func withQueueSize(n int) fixtureOption {
	return func(c *fixtureConfig) { c.queueSize = n }
}

// withoutDispatcher 副作用只写入发件箱，由RedeliverDue投递
func withoutDispatcher() fixtureOption {
	return func(c *fixtureConfig) { c.noDispatcher = true }
}

func withBroadcastRPS(rps float64) fixtureOption {
	return func(c *fixtureConfig) { c.opts.BroadcastRPS = rps }
}

func withEffectMaxAttempts(n int) fixtureOption {
	return func(c *fixtureConfig) { c.opts.EffectMaxAttempts = n }
}

func withBackend(backend string) fixtureOption {
	return func(c *fixtureConfig) { c.backend = backend }
}

func newFixture(t *testing.T, sink *recordingSink, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := fixtureConfig{
		opts:        DefaultOptions(),
		maxAttempts: 10,
		queueSize:   256,
		backend:     dao.BackendSQL,
	}
	cfg.opts.BroadcastRPS = 0
	for _, opt := range opts {
		opt(&cfg)
	}

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(database.Options{
		Driver:      "sqlite",
		DSN:         fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name),
		MaxAttempts: cfg.maxAttempts,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewRedisClient(redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repos, err := dao.NewRepositories(db, rdb, cfg.backend)
	require.NoError(t, err)

	if sink == nil {
		sink = newRecordingSink()
	}
	m := metrics.New("test")
	log := logger.NewNop()

	var dispatcher *notify.Dispatcher
	if !cfg.noDispatcher {
		dispatcher = notify.NewDispatcher(4, cfg.queueSize, log, m)
		dispatcher.Start()
		t.Cleanup(func() { _ = dispatcher.Stop(context.Background()) })
	}

	clk := testingclock.NewFakeClock(t0)
	svc, err := NewService(repos, sink, dispatcher, clk, log, m, cfg.opts)
	require.NoError(t, err)
	svc.Broadcaster().Start()
	t.Cleanup(func() { _ = svc.Broadcaster().Stop(context.Background()) })

	return &fixture{
		svc:        svc,
		db:         db,
		repos:      repos,
		sink:       sink,
		clock:      clk,
		dispatcher: dispatcher,
		metrics:    m,
		redis:      mr,
	}
}

// submitAndApprove 提交并通过一条投稿，推进时钟避开冷却
func (f *fixture) submitAndApprove(t *testing.T, author, text string) (*model.Confession, int64) {
	t.Helper()
	ctx := context.Background()
	c, err := f.svc.SubmitConfession(ctx, author, text)
	require.NoError(t, err)
	approved, n, err := f.svc.ApproveConfession(ctx, c.ID, "admin")
	require.NoError(t, err)
	f.clock.Step(2 * time.Minute)
	return approved, n
}
