package render

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(values ...string) func(context.Context) (string, error) {
	i := 0
	return func(context.Context) (string, error) {
		v := values[min(i, len(values)-1)]
		i++
		return v, nil
	}
}

func TestWaitStableStopsAfterUnchangedPolls(t *testing.T) {
	long := strings.Repeat("文", 400)
	cfg := StabilityConfig{PollInterval: time.Millisecond, StablePolls: 3, MinStableChars: 300}

	calls := 0
	sample := sequence("", "loading", long[:30], long)
	got, err := waitStable(context.Background(), cfg, time.Minute, func(ctx context.Context) (string, error) {
		calls++
		return sample(ctx)
	})

	require.NoError(t, err)
	assert.Equal(t, long, got)
	assert.Equal(t, 7, calls)
}

func TestWaitStableShortTextWaitsForCeiling(t *testing.T) {
	cfg := StabilityConfig{PollInterval: 5 * time.Millisecond, StablePolls: 3, MinStableChars: 300}

	start := time.Now()
	got, err := waitStable(context.Background(), cfg, 40*time.Millisecond, sequence("short"))

	require.NoError(t, err)
	assert.Equal(t, "short", got)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitStableHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := StabilityConfig{PollInterval: time.Second, StablePolls: 3, MinStableChars: 300}

	got, err := waitStable(ctx, cfg, time.Minute, sequence("partial"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "partial", got)
}

func TestStabilityDefaults(t *testing.T) {
	cfg := StabilityConfig{}.withDefaults()
	assert.Equal(t, DefaultStabilityConfig().PollInterval, cfg.PollInterval)
	assert.Equal(t, 3, cfg.StablePolls)
}

func TestStabilityCeiling(t *testing.T) {
	assert.Equal(t, 20*time.Second, StabilityConfig{}.ceiling(20*time.Second))
	assert.Equal(t, 8*time.Second, StabilityConfig{MaxWait: 8 * time.Second}.ceiling(20*time.Second))
	assert.Equal(t, 20*time.Second, StabilityConfig{MaxWait: time.Minute}.ceiling(20*time.Second))
	assert.Equal(t, 8*time.Second, StabilityConfig{MaxWait: 8 * time.Second}.ceiling(0))
}
