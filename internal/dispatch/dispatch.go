// Package dispatch decorates a platform backend with delivery policy: a
// token-bucket rate limit, bounded retries with jittered exponential backoff,
// suppression of repeated identical progress renders, and a short in-memory
// render history.
//
// Calls stay synchronous so the controller still sees every render error.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"liveactivity/internal/activity"
	"liveactivity/internal/backend"
	"liveactivity/internal/eventbus"
	"liveactivity/internal/metrics"
	"liveactivity/pkg/logx"
)

const historyCap = 300

// Config controls delivery policy. Zero values pick defaults.
type Config struct {
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	// CallTimeout bounds a single backend call.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 2 * time.Second
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 256
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	return c
}

// HistoryItem is one delivered or failed render.
type HistoryItem struct {
	At       time.Time     `json:"at"`
	Method   string        `json:"method"`
	Tag      string        `json:"tag"`
	Phase    string        `json:"phase,omitempty"`
	Attempts int           `json:"attempts"`
	Took     time.Duration `json:"took"`
	Error    string        `json:"error,omitempty"`
}

type Dispatcher struct {
	inner   backend.Backend
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

var _ backend.Backend = (*Dispatcher)(nil)

func New(inner backend.Backend, cfg Config, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		inner:   inner,
		log:     log.With(logx.String("comp", "dispatch"), logx.String("backend", inner.Name())),
		bus:     bus,
		metrics: m,
		dedup:   map[string]time.Time{},
	}
	d.applyLocked(cfg)
	return d
}

// Apply swaps the delivery policy at runtime.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	d.cfg = cfg.withDefaults()
	d.limiter = rate.NewLimiter(rate.Limit(d.cfg.RatePerSec), d.cfg.RatePerSec)
}

// Inner returns the decorated backend.
func (d *Dispatcher) Inner() backend.Backend { return d.inner }

func (d *Dispatcher) Name() string { return d.inner.Name() }

func (d *Dispatcher) NewTag(id string) string { return d.inner.NewTag(id) }

func (d *Dispatcher) Show(ctx context.Context, tag string, n backend.Notification) error {
	d.resetDedup()
	return d.call(ctx, "show", tag, string(n.Phase), func(c context.Context) error { return d.inner.Show(c, tag, n) })
}

// Update drops a render identical to one delivered within the dedup window.
func (d *Dispatcher) Update(ctx context.Context, tag string, n backend.Notification) error {
	key := renderKey(tag, n)
	if !d.dedupAllow(key) {
		d.metrics.Deduped(d.inner.Name())
		d.publish(eventbus.RenderDeduped, eventbus.ActivityEvent{Tag: tag, Backend: d.inner.Name(), Op: "update", Progress: n.Progress, ProgressText: n.ProgressText})
		return nil
	}
	err := d.call(ctx, "update", tag, string(n.Phase), func(c context.Context) error { return d.inner.Update(c, tag, n) })
	if err != nil {
		// A failed render must not suppress the caller's next identical try.
		d.dmu.Lock()
		delete(d.dedup, key)
		d.dmu.Unlock()
	}
	return err
}

func (d *Dispatcher) Complete(ctx context.Context, tag string, n backend.Notification) error {
	defer d.resetDedup()
	return d.call(ctx, "complete", tag, string(n.Phase), func(c context.Context) error { return d.inner.Complete(c, tag, n) })
}

func (d *Dispatcher) Clear(ctx context.Context, tag string) error {
	return d.call(ctx, "clear", tag, "", func(c context.Context) error { return d.inner.Clear(c, tag) })
}

// History returns recent renders, oldest first.
func (d *Dispatcher) History() []HistoryItem {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	return append([]HistoryItem(nil), d.history...)
}

func (d *Dispatcher) call(ctx context.Context, method, tag, phase string, fn func(context.Context) error) error {
	d.mu.Lock()
	cfg := d.cfg
	lim := d.limiter
	d.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	start := time.Now()
	var err error
	n := 0
	for n < attempts {
		n++
		if werr := lim.Wait(ctx); werr != nil {
			if err == nil {
				err = werr
			}
			break
		}

		cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		t0 := time.Now()
		err = fn(cctx)
		cancel()
		d.metrics.Render(d.inner.Name(), method, time.Since(t0), err)
		if err == nil || !retryable(err) || n >= attempts {
			break
		}

		d.metrics.Retry(d.inner.Name())
		d.log.Debug("render failed, retrying", logx.String("method", method), logx.Int("attempt", n), logx.Int("max", attempts), logx.Err(err))
		if !sleep(ctx, retryDelay(cfg, n)) {
			break
		}
	}

	item := HistoryItem{At: time.Now(), Method: method, Tag: tag, Phase: phase, Attempts: n, Took: time.Since(start)}
	if err != nil {
		item.Error = err.Error()
		d.publish(eventbus.RenderFailed, eventbus.ActivityEvent{Tag: tag, Backend: d.inner.Name(), Op: method, Error: err.Error()})
	}
	d.appendHistory(item)
	if err != nil && n > 1 {
		return fmt.Errorf("%w (after %d attempts)", err, n)
	}
	return err
}

// retryable excludes errors no retry can fix.
func retryable(err error) bool {
	switch {
	case errors.Is(err, activity.ErrBackendUnavailable),
		errors.Is(err, activity.ErrPermissionDenied),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// retryDelay is the wait before attempt+1: base*2^(attempt-1) capped at the
// max delay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}

func renderKey(tag string, n backend.Notification) string {
	h := fnv.New64a()
	for _, s := range []string{tag, string(n.Phase), n.Label, n.Title, n.Text, n.ProgressText, strconv.FormatFloat(float64(n.Progress), 'g', -1, 32)} {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func (d *Dispatcher) dedupAllow(key string) bool {
	d.mu.Lock()
	window, maxEntries := d.cfg.DedupWindow, d.cfg.DedupMaxEntries
	d.mu.Unlock()
	if window <= 0 {
		return true
	}

	now := time.Now()
	d.dmu.Lock()
	defer d.dmu.Unlock()
	if until, ok := d.dedup[key]; ok && now.Before(until) {
		return false
	}
	d.dedup[key] = now.Add(window)

	for k, until := range d.dedup {
		if !now.Before(until) {
			delete(d.dedup, k)
		}
	}
	for len(d.dedup) > maxEntries {
		var oldest string
		var oldestAt time.Time
		for k, until := range d.dedup {
			if oldest == "" || until.Before(oldestAt) {
				oldest, oldestAt = k, until
			}
		}
		delete(d.dedup, oldest)
	}
	return true
}

// resetDedup drops dedup state so a fresh show or a finish is never
// suppressed by an earlier identical render. Only one activity is live at a
// time, so the whole map goes.
func (d *Dispatcher) resetDedup() {
	d.dmu.Lock()
	clear(d.dedup)
	d.dmu.Unlock()
}

func (d *Dispatcher) appendHistory(item HistoryItem) {
	d.hmu.Lock()
	d.history = append(d.history, item)
	if len(d.history) > historyCap {
		d.history = d.history[len(d.history)-historyCap:]
	}
	d.hmu.Unlock()
}

func (d *Dispatcher) publish(typ string, ev eventbus.ActivityEvent) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
