package tenantauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepRemovesExpiredRecords(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	basic := env.seedPlan(t, "Basic", 5)
	t1 := env.seedTenant(t, "Acme", nil)
	_, err := env.engine.Subscriptions().Assign(ctx, t1.ID, basic.ID, 24*time.Hour)
	require.NoError(t, err)
	ada := env.seedPrincipal(t, "ada", t1.ID)

	_, err = env.engine.Login(ctx, "ada@x.io", testPassword)
	require.NoError(t, err)
	_, err = env.engine.EnrollSecondFactor(ctx, ada.ID, "")
	require.NoError(t, err)

	report, err := env.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)

	env.clock.Advance(8 * 24 * time.Hour)
	report, err = env.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.RefreshTokensDeleted)
	assert.EqualValues(t, 1, report.EnrollmentsDeleted)
	assert.Equal(t, 1, report.SubscriptionsExpired)

	snap := env.engine.MetricsSnapshot()
	assert.EqualValues(t, 1, snap.Counters[MetricSweepRefreshDeleted])
	assert.EqualValues(t, 1, snap.Counters[MetricSweepSubscriptionsExpired])

	report, err = env.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Sweeper.Interval = 5 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.engine.RunSweeper(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}

func TestSweepOnNilEngine(t *testing.T) {
	var e *Engine
	_, err := e.Sweep(context.Background())
	assert.True(t, errors.Is(err, ErrEngineNotReady))
}
