package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDisabledLimiterNeverWaits(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.False(t, l.Enabled())
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://example.com"))
	}
	require.Zero(t, l.Hosts())

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "https://example.com"))
}

func TestWaitDelaysSameHost(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1 leaves 100ms between tokens.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.example/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://TEST.example/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, 1, l.Hosts())
}

func TestHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://a.example"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, 2, l.Hosts())
}

func TestIdleBucketsAreDropped(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1000, Burst: 1})
	l.sweepAt = 2
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://a.example"))
	require.NoError(t, l.Wait(ctx, "https://b.example"))
	require.Equal(t, 2, l.Hosts())

	// Both buckets refill within a few milliseconds.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Wait(ctx, "https://c.example"))
	require.Equal(t, 1, l.Hosts())
}

func TestWaitRespectsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.01, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.example"))
}

func TestHost(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", Host("https://Example.com:8443/x"))
	require.Equal(t, "unknown", Host("not a url"))
	require.Equal(t, "unknown", Host("::"))
}
