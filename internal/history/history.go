// Package history journals lifecycle events from the event bus into
// storage and prunes old entries on a cron schedule.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"liveactivity/internal/eventbus"
	rtsup "liveactivity/internal/runtime/supervisor"
	"liveactivity/internal/storage"
	"liveactivity/pkg/logx"
)

const (
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultPruneSchedule = "@hourly"

	writeTimeout = 2 * time.Second
	pruneTimeout = 30 * time.Second
)

// journaled are the event types written to storage. Dedup and cleanup
// events are too chatty to keep.
var journaled = []string{
	eventbus.ActivityCreated,
	eventbus.ActivityUpdated,
	eventbus.ActivityCompleted,
	eventbus.ActivityRemoved,
	eventbus.ActivityFailed,
	eventbus.RenderFailed,
}

type Config struct {
	Retention     time.Duration
	PruneSchedule string
}

func (c Config) withDefaults() Config {
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	c.PruneSchedule = strings.TrimSpace(c.PruneSchedule)
	if c.PruneSchedule == "" {
		c.PruneSchedule = DefaultPruneSchedule
	}
	return c
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec is a usable prune schedule.
func ValidateSchedule(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("prune schedule %q: %w", spec, err)
	}
	return nil
}

// Recorder copies bus events into a storage.Store.
type Recorder struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	mu    sync.Mutex
	cfg   Config
	c     *cron.Cron
	sup   *rtsup.Supervisor
	unsub func()
}

func New(store storage.Store, bus eventbus.Bus, cfg Config, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{
		store: store,
		bus:   bus,
		log:   log.With(logx.String("comp", "history")),
		now:   time.Now,
		cfg:   cfg.withDefaults(),
	}
}

// Start subscribes to the bus and starts the prune schedule.
func (r *Recorder) Start(ctx context.Context) error {
	if r.store == nil || r.bus == nil {
		return errors.New("history: store and bus are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sup != nil {
		return nil
	}
	if err := r.startCronLocked(); err != nil {
		return err
	}

	ch, unsub := r.bus.Subscribe(256, journaled...)
	r.unsub = unsub
	r.sup = rtsup.New(ctx, rtsup.WithLogger(r.log))
	r.sup.Go("history.record", func(context.Context) error {
		// Drains until Stop unsubscribes and the channel closes.
		for ev := range ch {
			r.record(ev)
		}
		return nil
	})
	r.log.Info("history recorder started", logx.String("prune_schedule", r.cfg.PruneSchedule), logx.Duration("retention", r.cfg.Retention))
	return nil
}

// Apply swaps retention and schedule; a running schedule is restarted.
func (r *Recorder) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := ValidateSchedule(cfg.PruneSchedule); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := cfg.PruneSchedule != r.cfg.PruneSchedule
	r.cfg = cfg
	if r.c == nil || !changed {
		return nil
	}
	<-r.c.Stop().Done()
	return r.startCronLocked()
}

func (r *Recorder) startCronLocked() error {
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(r.cfg.PruneSchedule, r.pruneJob); err != nil {
		return fmt.Errorf("prune schedule %q: %w", r.cfg.PruneSchedule, err)
	}
	c.Start()
	r.c = c
	return nil
}

func (r *Recorder) pruneJob() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()
	n, err := r.Prune(ctx)
	if err != nil {
		r.log.Warn("journal prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		r.log.Info("journal pruned", logx.Int("removed", n))
	}
}

// Prune drops entries older than the retention window.
func (r *Recorder) Prune(ctx context.Context) (int, error) {
	r.mu.Lock()
	retention := r.cfg.Retention
	r.mu.Unlock()
	return r.store.Prune(ctx, r.now().Add(-retention))
}

// Recent returns the newest journal entries, oldest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]storage.Entry, error) {
	return r.store.Recent(ctx, limit)
}

func (r *Recorder) record(ev eventbus.Event) {
	e := storage.Entry{At: ev.Time, Type: ev.Type}
	if a, ok := ev.Data.(eventbus.ActivityEvent); ok {
		e.ActivityID = a.ID
		e.Tag = a.Tag
		e.Backend = a.Backend
		e.Op = a.Op
		e.Title = a.Title
		e.Progress = a.Progress
		e.ProgressText = a.ProgressText
		e.Error = a.Error
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.Append(ctx, e); err != nil {
		r.log.Debug("journal append failed", logx.String("type", ev.Type), logx.Err(err))
	}
}

// Stop ends the schedule, flushes buffered events and waits for the
// recorder until ctx is done. The store is left open.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	c, sup, unsub := r.c, r.sup, r.unsub
	r.c, r.sup, r.unsub = nil, nil, nil
	r.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if unsub != nil {
		unsub()
	}
	if sup == nil {
		return nil
	}
	err := sup.Wait(ctx)
	sup.Cancel()
	return err
}
