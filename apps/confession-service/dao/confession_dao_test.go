package dao

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goim-confession/apps/confession-service/model"
)

func TestCreateConfession_CountsAuthorSubmission(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	confessions := NewConfessionDAO(db)
	users := NewUserDAO(db)

	newPending(t, confessions, "u1", "first one")
	newPending(t, confessions, "u1", "second one")

	stats, err := users.GetStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.ConfessionCount)
}

func TestApproveConfession_AssignsNumberAndCreatesThread(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	confessions := NewConfessionDAO(db)
	comments := NewCommentDAO(db)

	c := newPending(t, confessions, "u1", "I broke the vending machine #funny", "#funny")

	approved, number, err := confessions.ApproveConfession(ctx, c.ID, "admin", 0, baseTime, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), number)
	assert.Equal(t, model.ConfessionStatusApproved, approved.Status)
	require.NotNil(t, approved.SequenceNumber)
	assert.Equal(t, int64(1), *approved.SequenceNumber)

	thread, err := comments.GetThread(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), thread.Total)

	logs, err := confessions.GetModerationLogs(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ConfessionStatusPending, logs[0].OldStatus)
	assert.Equal(t, model.ConfessionStatusApproved, logs[0].NewStatus)

	byNumber, err := confessions.GetConfessionByNumber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, c.ID, byNumber.ID)
	assert.Equal(t, []string{"#funny"}, byNumber.Hashtags)
}

func TestApproveConfession_SecondApprovalDoesNotAllocate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	confessions := NewConfessionDAO(db)
	sequence := NewSequenceDAO(db)

	c := newPending(t, confessions, "u1", "approve me twice")
	_, _, err := confessions.ApproveConfession(ctx, c.ID, "admin", 0, baseTime, nil)
	require.NoError(t, err)

	_, _, err = confessions.ApproveConfession(ctx, c.ID, "admin", 0, baseTime, nil)
	var stateErr *model.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, model.ConfessionStatusApproved, stateErr.Status)

	current, err := sequence.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
}

func TestApproveConfession_Missing(t *testing.T) {
	db := newTestDB(t)
	confessions := NewConfessionDAO(db)

	_, _, err := confessions.ApproveConfession(context.Background(), uuid.NewString(), "admin", 0, baseTime, nil)
	var notFound *model.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRejectConfession_NeverNumbered(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	confessions := NewConfessionDAO(db)
	sequence := NewSequenceDAO(db)

	c := newPending(t, confessions, "u1", "please reject")
	rejected, err := confessions.RejectConfession(ctx, c.ID, "admin", "spam", baseTime, nil)
	require.NoError(t, err)
	assert.Equal(t, model.ConfessionStatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "spam", *rejected.RejectionReason)

	_, _, err = confessions.ApproveConfession(ctx, c.ID, "admin", 0, baseTime, nil)
	var stateErr *model.InvalidStateError
	require.ErrorAs(t, err, &stateErr)

	stored, err := confessions.GetConfession(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.SequenceNumber)

	current, err := sequence.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), current)
}

func TestListPending_OldestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	confessions := NewConfessionDAO(db)

	first := newPending(t, confessions, "u1", "first pending")
	later := &model.Confession{
		ID:        uuid.NewString(),
		AuthorID:  "u2",
		Text:      "second pending",
		Status:    model.ConfessionStatusPending,
		CreatedAt: baseTime.Add(time.Second),
	}
	require.NoError(t, confessions.CreateConfession(ctx, later, nil, nil))
	done := newPending(t, confessions, "u3", "already decided")
	_, _, err := confessions.ApproveConfession(ctx, done.ID, "admin", 0, baseTime, nil)
	require.NoError(t, err)

	pending, total, err := confessions.ListPending(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, later.ID, pending[1].ID)
}

func TestListByHashtag_OnlyApprovedExactTag(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	confessions := NewConfessionDAO(db)

	a := newPending(t, confessions, "u1", "one #funny", "#funny")
	b := newPending(t, confessions, "u1", "two #funnier", "#funnier")
	newPending(t, confessions, "u1", "three #funny pending", "#funny")
	for _, c := range []*model.Confession{a, b} {
		_, _, err := confessions.ApproveConfession(ctx, c.ID, "admin", 0, baseTime, nil)
		require.NoError(t, err)
	}

	found, total, err := confessions.ListByHashtag(ctx, "#funny", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, found, 1)
	assert.Equal(t, a.ID, found[0].ID)
}

func TestCreateConfession_WritesCooldownAndEffects(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	confessions := NewConfessionDAO(db)
	cooldowns := NewSQLCooldownStore(db)
	outbox := NewOutboxDAO(db)

	c := &model.Confession{
		ID:        uuid.NewString(),
		AuthorID:  "u1",
		Text:      "cooldown in the same unit",
		Status:    model.ConfessionStatusPending,
		CreatedAt: baseTime,
	}
	cooldown := &model.CooldownRecord{UserID: "u1", ActionKind: model.ActionConfession, LastActionMs: baseTime.UnixMilli()}
	effects := []*model.OutboxEntry{
		{Kind: model.EffectAdminNotice, Target: "a1", ConfessionID: c.ID, NextAttemptMs: baseTime.UnixMilli(), CreatedAt: baseTime},
	}
	require.NoError(t, confessions.CreateConfession(ctx, c, cooldown, effects))

	at, found, err := cooldowns.LastAction(ctx, "u1", model.ActionConfession)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, at.Equal(baseTime))

	stored, err := outbox.ListByConfession(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, model.OutboxStatusPending, stored[0].Status)
}

func TestCreateConfession_FailureLeavesNoCooldown(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	confessions := NewConfessionDAO(db)
	cooldowns := NewSQLCooldownStore(db)

	c := newPending(t, confessions, "u1", "first one")
	dup := *c
	cooldown := &model.CooldownRecord{UserID: "u1", ActionKind: model.ActionConfession, LastActionMs: baseTime.UnixMilli()}
	require.Error(t, confessions.CreateConfession(ctx, &dup, cooldown, nil))

	_, found, err := cooldowns.LastAction(ctx, "u1", model.ActionConfession)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestApproveConfession_CreditsReputationWithEffects(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	confessions := NewConfessionDAO(db)
	users := NewUserDAO(db)
	outbox := NewOutboxDAO(db)

	c := newPending(t, confessions, "u1", "credit me")
	effects := []*model.OutboxEntry{
		{Kind: model.EffectChannelPost, Target: "confessions", ConfessionID: c.ID, CreatedAt: baseTime},
		{Kind: model.EffectApprovedNotice, Target: "u1", ConfessionID: c.ID, CreatedAt: baseTime},
	}
	_, _, err := confessions.ApproveConfession(ctx, c.ID, "admin", 10, baseTime, effects)
	require.NoError(t, err)

	stats, err := users.GetStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Reputation)

	stored, err := outbox.ListByConfession(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// 第二次审核失败，不重复计分也不重复写入副作用
	_, _, err = confessions.ApproveConfession(ctx, c.ID, "admin", 10, baseTime, []*model.OutboxEntry{
		{Kind: model.EffectChannelPost, Target: "confessions", ConfessionID: c.ID, CreatedAt: baseTime},
	})
	require.Error(t, err)

	stats, err = users.GetStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Reputation)
	stored, err = outbox.ListByConfession(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}
