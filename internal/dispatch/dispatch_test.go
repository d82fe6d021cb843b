package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveactivity/internal/activity"
	"liveactivity/internal/backend"
	"liveactivity/internal/backend/backendtest"
	"liveactivity/internal/eventbus"
	"liveactivity/pkg/logx"
)

func fast(cfg Config) Config {
	cfg.RatePerSec = 1000
	cfg.RetryBase = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	return cfg
}

func prog(p float32) backend.Notification {
	return backend.Notification{Phase: backend.PhaseProgress, Title: "Sync", Progress: p, ProgressText: fmt.Sprintf("%.1f%%", p*100)}
}

func TestRetriesTransientErrors(t *testing.T) {
	rec := backendtest.New()
	rec.Fail("Show", errors.New("busy"))
	d := New(rec, fast(Config{RetryMax: 2}), logx.Nop(), nil, nil)

	err := d.Show(context.Background(), "t1", prog(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, []string{"Show", "Show", "Show"}, rec.Methods())

	h := d.History()
	require.Len(t, h, 1)
	assert.Equal(t, 3, h[0].Attempts)
	assert.Equal(t, "busy", h[0].Error)
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	rec := backendtest.New()
	rec.Fail("Show", fmt.Errorf("%w: nope", activity.ErrBackendUnavailable))
	d := New(rec, fast(Config{RetryMax: 5}), logx.Nop(), nil, nil)

	err := d.Show(context.Background(), "t1", prog(0))
	assert.ErrorIs(t, err, activity.ErrBackendUnavailable)
	assert.Len(t, rec.Calls(), 1)
}

func TestDuplicateProgressIsSuppressed(t *testing.T) {
	rec := backendtest.New()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, eventbus.RenderDeduped)
	defer unsub()
	d := New(rec, fast(Config{DedupWindow: time.Minute}), logx.Nop(), bus, nil)
	ctx := context.Background()

	require.NoError(t, d.Update(ctx, "t1", prog(0.5)))
	require.NoError(t, d.Update(ctx, "t1", prog(0.5)))
	require.NoError(t, d.Update(ctx, "t1", prog(0.6)))
	assert.Equal(t, []string{"Update", "Update"}, rec.Methods())
	assert.Equal(t, eventbus.RenderDeduped, (<-ch).Type)

	// Completion and a new show are never suppressed and reset the window.
	require.NoError(t, d.Complete(ctx, "t1", prog(1)))
	require.NoError(t, d.Update(ctx, "t1", prog(0.5)))
	assert.Equal(t, []string{"Update", "Update", "Complete", "Update"}, rec.Methods())
}

func TestFailedUpdateIsNotDeduped(t *testing.T) {
	rec := backendtest.New()
	d := New(rec, fast(Config{DedupWindow: time.Minute}), logx.Nop(), nil, nil)
	ctx := context.Background()

	rec.Fail("Update", errors.New("flaky"))
	require.Error(t, d.Update(ctx, "t1", prog(0.5)))
	rec.Fail("Update", nil)
	require.NoError(t, d.Update(ctx, "t1", prog(0.5)))
	assert.Len(t, rec.Calls(), 2)
}

func TestDedupDisabledByDefault(t *testing.T) {
	rec := backendtest.New()
	d := New(rec, fast(Config{}), logx.Nop(), nil, nil)
	require.NoError(t, d.Update(context.Background(), "t1", prog(0.5)))
	require.NoError(t, d.Update(context.Background(), "t1", prog(0.5)))
	assert.Len(t, rec.Calls(), 2)
}

func TestCancelledContextStopsRetries(t *testing.T) {
	rec := backendtest.New()
	rec.Fail("Clear", errors.New("busy"))
	cfg := fast(Config{RetryMax: 10})
	cfg.RetryBase = time.Hour
	cfg.RetryMaxDelay = time.Hour
	d := New(rec, cfg, logx.Nop(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, d.Clear(ctx, "t1"))
	assert.Len(t, rec.Calls(), 1)
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.GreaterOrEqual(t, d, 70*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestApplyKeepsPassThrough(t *testing.T) {
	rec := backendtest.New()
	rec.TagFunc = func(id string) string { return "x-" + id }
	d := New(rec, Config{}, logx.Nop(), nil, nil)
	d.Apply(fast(Config{RetryMax: 1}))
	assert.Equal(t, "x-a", d.NewTag("a"))
	assert.Equal(t, "recorder", d.Name())
	assert.Same(t, rec, d.Inner())
}
