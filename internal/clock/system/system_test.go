package system

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after))
}

func TestClockSleep(t *testing.T) {
	t.Parallel()

	clk := New()
	start := time.Now()
	require.NoError(t, clk.Sleep(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	require.NoError(t, clk.Sleep(context.Background(), 0))
}

func TestClockSleepHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	clk := New()
	start := time.Now()
	require.ErrorIs(t, clk.Sleep(ctx, time.Hour), context.Canceled)
	require.ErrorIs(t, clk.Sleep(ctx, 0), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
