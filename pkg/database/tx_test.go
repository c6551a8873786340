package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type probe struct {
	ID    uint `gorm:"primaryKey"`
	Value int
}

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(Options{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&probe{}))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunInTx_RetriesConflictThenCommits(t *testing.T) {
	db := openTestDB(t)

	calls := 0
	err := RunInTx(context.Background(), db.GetDB(), 3, func(tx *gorm.DB) error {
		calls++
		if err := tx.Create(&probe{Value: calls}).Error; err != nil {
			return err
		}
		if calls < 3 {
			return ErrConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	// 失败的尝试全部回滚
	var rows []probe
	require.NoError(t, db.GetDB().Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].Value)
}

func TestRunInTx_ExhaustsAttempts(t *testing.T) {
	db := openTestDB(t)

	calls := 0
	err := RunInTx(context.Background(), db.GetDB(), 2, func(tx *gorm.DB) error {
		calls++
		return ErrConflict
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 2, calls)
}

func TestRunInTx_NonRetryableReturnsImmediately(t *testing.T) {
	db := openTestDB(t)

	boom := errors.New("boom")
	calls := 0
	err := db.Transaction(context.Background(), func(tx *gorm.DB) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(fmt.Errorf("wrap: %w", ErrConflict)))
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsRetryable(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, IsRetryable(errors.New("no such table")))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(Options{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}
