package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goim-confession/apps/confession-service/model"
	"goim-confession/pkg/logger"
)

func TestNewCompactor_InvalidCron(t *testing.T) {
	f := newFixture(t, nil)
	_, err := NewCompactor(f.svc.Limiter(), "not a cron", f.clock, logger.NewNop())
	require.Error(t, err)
}

func TestCompactor_RunOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	windows := f.repos.RateWindows

	require.NoError(t, windows.Append(ctx, "u1", model.ActionComment, t0.Add(-time.Hour)))
	require.NoError(t, windows.Append(ctx, "u2", model.ActionComment, t0.Add(-time.Minute)))
	require.NoError(t, windows.Append(ctx, "u2", model.ActionComment, t0.Add(-time.Second)))

	compactor, err := NewCompactor(f.svc.Limiter(), "*/5 * * * *", f.clock, logger.NewNop())
	require.NoError(t, err)

	removed, err := compactor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	left, err := windows.Since(ctx, "u2", model.ActionComment, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestCompactor_RunsOnSchedule(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	windows := f.repos.RateWindows
	require.NoError(t, windows.Append(ctx, "u1", model.ActionComment, t0.Add(-time.Hour)))

	compactor, err := NewCompactor(f.svc.Limiter(), "* * * * *", f.clock, logger.NewNop())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		compactor.Run(ctx)
		close(done)
	}()

	require.Eventually(t, f.clock.HasWaiters, time.Second, 5*time.Millisecond)
	f.clock.Step(time.Minute)

	require.Eventually(t, func() bool {
		left, err := windows.Since(context.Background(), "u1", model.ActionComment, t0.Add(-2*time.Hour))
		return err == nil && len(left) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("compactor did not stop")
	}
}
