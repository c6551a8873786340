package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"goim-confession/apps/confession-service/dao"
	"goim-confession/apps/confession-service/model"
)

func TestSubmitConfession_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		text string
	}{
		{"too short", "abcd"},
		{"markup only", "<b></b>   "},
		{"too long", strings.Repeat("x", model.DefaultConfessionMaxLength+1)},
		{"short after stripping", "<script>a long hidden payload</script>hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SubmitConfession(ctx, "u1", tt.text)
			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}

	// 校验失败不写入冷却
	status, err := f.svc.CheckCooldown(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, status.Allowed)

	stats, err := f.svc.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, stats.ConfessionCount)
}

func TestSubmitConfession_CooldownBoundary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.SubmitConfession(ctx, "u1", "first confession text")
	require.NoError(t, err)

	f.clock.SetTime(t0.Add(60 * time.Second))
	_, err = f.svc.SubmitConfession(ctx, "u1", "second confession text")
	var limited *model.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, model.ActionConfession, limited.Action)
	assert.Equal(t, int64(1), limited.RemainingSeconds())

	// 其他用户不受影响
	_, err = f.svc.SubmitConfession(ctx, "u2", "someone else entirely")
	require.NoError(t, err)

	f.clock.SetTime(t0.Add(60001 * time.Millisecond))
	_, err = f.svc.SubmitConfession(ctx, "u1", "second confession text")
	require.NoError(t, err)

	stats, err := f.svc.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.ConfessionCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ThrottleRejects.WithLabelValues(model.ActionConfession)))
}

func TestSubmitConfession_BlockedUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.BlockUser(ctx, "troll"))

	_, err := f.svc.SubmitConfession(ctx, "troll", "let me in please")
	var forbidden *model.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
}

func TestSubmitConfession_NotifiesAdmins(t *testing.T) {
	f := newFixture(t, nil, withAdmins("a1", "a2"))
	c, err := f.svc.SubmitConfession(context.Background(), "u1", "please review this")
	require.NoError(t, err)
	f.wait()

	for _, admin := range []string{"a1", "a2"} {
		msgs := f.sink.userMessages(admin)
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0], c.ID)
	}
}

func TestApproveConfession_ConcurrentApprovalsAreContiguous(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const n = 12
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		c, err := f.svc.SubmitConfession(ctx, "author-"+string(rune('a'+i)), "confession number text")
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int64
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, number, err := f.svc.ApproveConfession(ctx, id, "admin")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers = append(numbers, number)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	want := make([]int64, n)
	for i := range want {
		want[i] = int64(i + 1)
	}
	assert.Equal(t, want, numbers)

	current, err := f.svc.Sequence().Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(n), current)
}

func TestApproveConfession_DoubleApproveAllocatesOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.svc.SubmitConfession(ctx, "u1", "approve me twice")
	require.NoError(t, err)

	_, first, err := f.svc.ApproveConfession(ctx, c.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	_, _, err = f.svc.ApproveConfession(ctx, c.ID, "admin")
	var invalid *model.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "already handled")

	_, err = f.svc.RejectConfession(ctx, c.ID, "admin", "too late")
	require.ErrorAs(t, err, &invalid)

	current, err := f.svc.Sequence().Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
}

func TestApproveConfession_Unknown(t *testing.T) {
	f := newFixture(t, nil)
	_, _, err := f.svc.ApproveConfession(context.Background(), "missing", "admin")
	var notFound *model.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Decisions.WithLabelValues(model.ConfessionStatusApproved, "not_found")))
}

func TestApproveConfession_ContinuesFromLegacyNumbers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	legacy := int64(41)
	require.NoError(t, f.db.GetDB().Create(&model.Confession{
		ID:             "legacy",
		AuthorID:       "old",
		Text:           "imported from before",
		Status:         model.ConfessionStatusApproved,
		SequenceNumber: &legacy,
		CreatedAt:      t0.Add(-time.Hour),
	}).Error)

	a, err := f.svc.SubmitConfession(ctx, "u1", "first new confession")
	require.NoError(t, err)
	b, err := f.svc.SubmitConfession(ctx, "u2", "second new confession")
	require.NoError(t, err)

	_, na, err := f.svc.ApproveConfession(ctx, a.ID, "admin")
	require.NoError(t, err)
	_, nb, err := f.svc.ApproveConfession(ctx, b.ID, "admin")
	require.NoError(t, err)

	assert.ElementsMatch(t, []int64{42, 43}, []int64{na, nb})
}

func TestApproveConfession_SideEffectFailureKeepsNumber(t *testing.T) {
	sink := newRecordingSink("confessions", "u1")
	f := newFixture(t, sink)
	ctx := context.Background()

	c, err := f.svc.SubmitConfession(ctx, "u1", "the channel is down today")
	require.NoError(t, err)
	_, n, err := f.svc.ApproveConfession(ctx, c.ID, "admin")
	require.NoError(t, err)
	f.wait()

	stored, err := f.svc.GetConfession(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SequenceNumber)
	assert.Equal(t, n, *stored.SequenceNumber)
	assert.Nil(t, stored.ChannelMessageID)

	// 声望不依赖投递
	stats, err := f.svc.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(model.DefaultApproveReputation), stats.Reputation)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Deliveries.WithLabelValues("channel_post", "failed"))+
		testutil.ToFloat64(f.metrics.Deliveries.WithLabelValues(model.EventConfessionApproved, "failed")))
}

func TestRejectConfession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.svc.SubmitConfession(ctx, "u1", "this will be rejected")
	require.NoError(t, err)

	rejected, err := f.svc.RejectConfession(ctx, c.ID, "admin", "  <i>off topic</i> ")
	require.NoError(t, err)
	assert.Equal(t, model.ConfessionStatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "off topic", *rejected.RejectionReason)
	assert.Nil(t, rejected.SequenceNumber)
	f.wait()

	msgs := f.sink.userMessages("u1")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "off topic")

	logs, err := f.svc.GetModerationLogs(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ConfessionStatusRejected, logs[0].NewStatus)

	current, err := f.svc.Sequence().Current(ctx)
	require.NoError(t, err)
	assert.Zero(t, current)
}

func TestVendingMachineScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.svc.SubmitConfession(ctx, "alice", "I once ate a whole vending machine #funny")
	require.NoError(t, err)
	assert.Equal(t, model.ConfessionStatusPending, c.Status)
	assert.Equal(t, []string{"#funny"}, c.Hashtags)
	assert.Nil(t, c.SequenceNumber)

	_, n, err := f.svc.ApproveConfession(ctx, c.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	f.wait()

	posts := f.sink.channelPosts()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0], "#1")
	assert.Contains(t, posts[0], "vending machine")

	list, total, err := f.svc.ListByHashtag(ctx, "funny", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)

	byNumber, err := f.svc.GetConfessionByNumber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, c.ID, byNumber.ID)
	require.NotNil(t, byNumber.ChannelMessageID)

	comment, err := f.svc.AddComment(ctx, c.ID, "bob", "legendary snack")
	require.NoError(t, err)
	assert.NotZero(t, comment.ID)
	f.wait()

	stored, err := f.svc.GetConfession(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.CommentTotal)

	assert.Len(t, f.sink.userMessages("alice"), 2) // 通过通知与评论通知
	edits := f.sink.editsFor("msg-1")
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0], "💬 1")

	alice, err := f.svc.GetUserStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(model.DefaultApproveReputation), alice.Reputation)
	bob, err := f.svc.GetUserStats(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(model.DefaultCommentReputation), bob.Reputation)
	assert.Equal(t, int64(1), bob.CommentCount)
}

func TestSubmitConfession_EncodedMarkupIsStripped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.svc.SubmitConfession(ctx, "u1", "&lt;script&gt;alert(document.cookie)&lt;/script&gt; hello there")
	require.NoError(t, err)
	assert.Equal(t, "hello there", c.Text)

	stored, err := f.svc.GetConfession(ctx, c.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.Text, "<script")
	assert.Equal(t, "hello there", stored.Text)
}

func TestSubmitConfession_CooldownCommittedWithConfession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// 冷却行写入失败时整个投稿回滚
	require.NoError(t, f.db.GetDB().Callback().Create().Before("gorm:create").
		Register("test:fail_cooldown", func(db *gorm.DB) {
			if db.Statement.Table == "cooldowns" {
				_ = db.AddError(errors.New("cooldown write failed"))
			}
		}))

	_, err := f.svc.SubmitConfession(ctx, "u1", "all or nothing please")
	require.Error(t, err)

	pending, total, err := f.svc.ListPending(ctx, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, pending)
	stats, err := f.svc.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, stats.ConfessionCount)

	require.NoError(t, f.db.GetDB().Callback().Create().Remove("test:fail_cooldown"))
	c, err := f.svc.SubmitConfession(ctx, "u1", "all or nothing please")
	require.NoError(t, err)

	last, found, err := f.repos.Cooldowns.LastAction(ctx, "u1", model.ActionConfession)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, last.Equal(c.CreatedAt))
}

func TestSubmitConfession_RedisBackendRecordsCooldown(t *testing.T) {
	f := newFixture(t, nil, withBackend(dao.BackendRedis))
	ctx := context.Background()

	_, err := f.svc.SubmitConfession(ctx, "u1", "redis keeps my cooldown")
	require.NoError(t, err)

	status, err := f.svc.CheckCooldown(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.True(t, f.redis.Exists(model.CooldownKeyPrefix+"u1"))
}

func TestApproveConfession_ReputationWithoutDispatcher(t *testing.T) {
	f := newFixture(t, nil, withoutDispatcher())
	ctx := context.Background()

	c, err := f.svc.SubmitConfession(ctx, "u1", "credit arrives with the number")
	require.NoError(t, err)
	_, _, err = f.svc.ApproveConfession(ctx, c.ID, "admin")
	require.NoError(t, err)

	stats, err := f.svc.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(model.DefaultApproveReputation), stats.Reputation)
}

func TestApproveConfession_ConflictExhaustsRetries(t *testing.T) {
	f := newFixture(t, nil, withMaxAttempts(1))
	ctx := context.Background()
	f.submitAndApprove(t, "u1", "the first one goes through")

	c, err := f.svc.SubmitConfession(ctx, "u2", "this one will collide")
	require.NoError(t, err)

	// 在CAS之前于同一事务内推进计数器，模拟并发审核抢先
	var bumped atomic.Int32
	require.NoError(t, f.db.GetDB().Callback().Update().Before("gorm:update").
		Register("test:bump_counter", func(db *gorm.DB) {
			if db.Statement.Table != "sequence_counters" {
				return
			}
			bumped.Add(1)
			db.Session(&gorm.Session{NewDB: true}).
				Exec("UPDATE sequence_counters SET sequence_value = sequence_value + 1 WHERE name = ?", model.CounterConfession)
		}))

	_, _, err = f.svc.ApproveConfession(ctx, c.ID, "admin")
	var conflict *model.StoreConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int32(1), bumped.Load())

	stored, err := f.svc.GetConfession(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConfessionStatusPending, stored.Status)
	assert.Nil(t, stored.SequenceNumber)

	current, err := f.svc.Sequence().Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)

	stats, err := f.svc.GetUserStats(ctx, "u2")
	require.NoError(t, err)
	assert.Zero(t, stats.Reputation)
	effects, err := f.svc.Effects(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, effects)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StoreConflicts.WithLabelValues("approve confession")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Decisions.WithLabelValues(model.ConfessionStatusApproved, "conflict")))

	// 冲突消失后可以正常审核，序号连续
	require.NoError(t, f.db.GetDB().Callback().Update().Remove("test:bump_counter"))
	_, n, err := f.svc.ApproveConfession(ctx, c.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
