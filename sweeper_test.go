package auth_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-otp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperSweep(t *testing.T) {
	ctx := context.Background()
	ledger := auth.NewVerificationsRepository(newTestDB(t))
	clock := newTestClock()
	activity := &activityLog{}

	_, err := ledger.Issue(ctx, newPending("old@example.com", "111111", clock.Now(), time.Minute))
	require.NoError(t, err)
	_, err = ledger.Issue(ctx, newPending("fresh@example.com", "222222", clock.Now(), time.Hour))
	require.NoError(t, err)

	sweeper := auth.NewSweeper(ledger, time.Minute, nopLogger{}).
		WithClock(clock.Now).
		WithActivitySink(activity)

	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, activity.Types())

	clock.Advance(5 * time.Minute)
	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventLedgerSwept}, activity.Types())
}

func TestSweeperBackgroundLoop(t *testing.T) {
	ctx := context.Background()
	ledger := auth.NewVerificationsRepository(newTestDB(t))
	clock := newTestClock()

	_, err := ledger.Issue(ctx, newPending("old@example.com", "111111", clock.Now(), time.Minute))
	require.NoError(t, err)
	clock.Advance(time.Hour)

	sweeper := auth.NewSweeper(ledger, 10*time.Millisecond, nopLogger{}).WithClock(clock.Now)
	sweeper.Start(ctx)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	assert.Eventually(t, func() bool {
		_, err := ledger.FindByIdentity(ctx, "old@example.com")
		return err != nil
	}, time.Second, 10*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
}
