package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_SpacesSameHost(t *testing.T) {
	l := New(Config{Interval: 50 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://example.com/a"))
	require.NoError(t, l.Wait(ctx, "https://example.com/b"))

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestLimiter_HostsAreIndependent(t *testing.T) {
	l := New(Config{Interval: time.Second})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://a.example.com/"))
	require.NoError(t, l.Wait(ctx, "https://b.example.com/"))

	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLimiter_ContextCanceled(t *testing.T) {
	l := New(Config{Interval: time.Hour})
	require.NoError(t, l.Wait(context.Background(), "https://example.com/"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://example.com/again"))
}

func TestLimiter_Disabled(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://example.com/"))
	}
	assert.Zero(t, l.Interval("https://example.com/"))
}

func TestLimiter_ReportResultSlowsDown(t *testing.T) {
	l := New(Config{Interval: 100 * time.Millisecond, MaxInterval: 300 * time.Millisecond})
	u := "https://example.com/"

	l.ReportResult(u, http.StatusOK)
	assert.InDelta(t, float64(100*time.Millisecond), float64(l.Interval(u)), float64(time.Millisecond))

	l.ReportResult(u, http.StatusTooManyRequests)
	assert.InDelta(t, float64(200*time.Millisecond), float64(l.Interval(u)), float64(time.Millisecond))

	l.ReportResult(u, http.StatusServiceUnavailable)
	assert.InDelta(t, float64(300*time.Millisecond), float64(l.Interval(u)), float64(time.Millisecond))
}
