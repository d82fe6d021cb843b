// Package windows renders the live activity as a Windows toast with a
// progress bar.
//
// Each activity gets a fresh tag so a late update for an old activity can
// never touch a newer toast. Progress changes go out as partial data updates
// carrying a per-tag sequence number; the full toast is re-sent on show, on
// completion (with an expiration time) and when the partial update finds no
// toast to update.
package windows

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"liveactivity/internal/backend"
	"liveactivity/pkg/logx"
)

const (
	DefaultAppID       = "LiveActivity.Desktop"
	DefaultDisplayName = "Live Activity"
	DefaultExpireAfter = 5 * time.Second

	toastGroup = "liveactivity"
)

type Config struct {
	AppID       string
	DisplayName string
	IconPath    string
	// Shortcut enables Start-Menu shortcut creation during identity priming.
	Shortcut bool
	// ExpireAfter is how long a completed toast stays in the action center.
	ExpireAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.AppID == "" {
		c.AppID = DefaultAppID
	}
	if c.DisplayName == "" {
		c.DisplayName = DefaultDisplayName
	}
	if c.ExpireAfter <= 0 {
		c.ExpireAfter = DefaultExpireAfter
	}
	return c
}

// Deps are the native collaborators. Nil fields get the default
// implementation.
type Deps struct {
	Toaster   Toaster
	Identity  IdentityStore
	Shortcuts Shortcuts
	Now       func() time.Time
}

type Backend struct {
	cfg       Config
	toaster   Toaster
	identity  IdentityStore
	shortcuts Shortcuts
	now       func() time.Time
	log       logx.Logger

	mu     sync.Mutex
	primed bool
	seq    map[string]uint32
}

var _ backend.Backend = (*Backend)(nil)

func New(cfg Config, deps Deps, log logx.Logger) *Backend {
	if deps.Toaster == nil {
		deps.Toaster = NewPowerShellToaster(nil)
	}
	if deps.Identity == nil {
		deps.Identity = NewRegistryStore()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Backend{
		cfg:       cfg.withDefaults(),
		toaster:   deps.Toaster,
		identity:  deps.Identity,
		shortcuts: deps.Shortcuts,
		now:       deps.Now,
		log:       log.With(logx.String("backend", backend.NameWindows)),
		seq:       map[string]uint32{},
	}
}

func (b *Backend) Name() string { return backend.NameWindows }

// NewTag derives a unique toast tag from the request id and the current time.
func (b *Backend) NewTag(id string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(strconv.FormatInt(b.now().UnixNano(), 10)))
	return fmt.Sprintf("la-%016x", h.Sum64())
}

func (b *Backend) Show(ctx context.Context, tag string, n backend.Notification) error {
	if err := b.primeIdentity(ctx); err != nil {
		return err
	}
	seq := b.resetSeq(tag)
	return b.show(ctx, tag, n, seq, time.Time{})
}

func (b *Backend) Update(ctx context.Context, tag string, n backend.Notification) error {
	seq := b.nextSeq(tag)
	err := b.toaster.Update(ctx, b.cfg.AppID, tag, toastGroup, progressData(n, seq))
	if errors.Is(err, ErrToastNotFound) {
		b.log.Debug("toast gone, re-showing", logx.String("tag", tag))
		return b.show(ctx, tag, n, seq, time.Time{})
	}
	if err != nil {
		return fmt.Errorf("update toast progress: %w", err)
	}
	return nil
}

func (b *Backend) Complete(ctx context.Context, tag string, n backend.Notification) error {
	seq := b.nextSeq(tag)
	defer b.dropSeq(tag)
	return b.show(ctx, tag, n, seq, b.now().Add(b.cfg.ExpireAfter))
}

func (b *Backend) Clear(ctx context.Context, tag string) error {
	b.dropSeq(tag)
	if err := b.toaster.Remove(ctx, b.cfg.AppID, tag, toastGroup); err != nil {
		return fmt.Errorf("remove toast: %w", err)
	}
	return nil
}

func (b *Backend) show(ctx context.Context, tag string, n backend.Notification, seq uint32, expires time.Time) error {
	t := Toast{
		AppID:   b.cfg.AppID,
		Tag:     tag,
		Group:   toastGroup,
		Title:   n.Title,
		Body:    n.Text,
		Icon:    n.Icon,
		Data:    progressData(n, seq),
		Expires: expires,
	}
	if err := b.toaster.Show(ctx, t); err != nil {
		return fmt.Errorf("show %s toast: %w", n.Phase, err)
	}
	return nil
}

// progressData puts the task name above the bar and the task type below it;
// finished phases show their label as status instead.
func progressData(n backend.Notification, seq uint32) ProgressData {
	d := ProgressData{
		Title:     n.TaskName,
		Status:    n.TaskType,
		Value:     n.Progress,
		ValueText: n.ProgressText,
		Sequence:  seq,
	}
	if d.Status == "" || n.Phase.Finished() {
		d.Status = n.Label
	}
	return d
}

func (b *Backend) resetSeq(tag string) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq[tag] = 1
	return 1
}

func (b *Backend) nextSeq(tag string) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq[tag]++
	return b.seq[tag]
}

func (b *Backend) dropSeq(tag string) {
	b.mu.Lock()
	delete(b.seq, tag)
	b.mu.Unlock()
}

// primeIdentity registers the AUMID once. Write and shortcut failures are
// logged and retried on the next show; a read-back that disagrees with a
// successful write fails the show.
func (b *Backend) primeIdentity(ctx context.Context) error {
	b.mu.Lock()
	primed := b.primed
	b.mu.Unlock()
	if primed {
		return nil
	}

	want := Identity{AppID: b.cfg.AppID, DisplayName: b.cfg.DisplayName, IconURI: b.cfg.IconPath}
	if err := b.identity.Register(want); err != nil {
		b.log.Warn("app identity registration failed", logx.String("key", want.RegistryKey()), logx.Err(err))
		return nil
	}
	got, err := b.identity.Lookup(want.AppID)
	if err != nil {
		return fmt.Errorf("verify app identity: %w", err)
	}
	if got != want {
		return fmt.Errorf("verify app identity: registry holds %q/%q, want %q/%q",
			got.DisplayName, got.IconURI, want.DisplayName, want.IconURI)
	}

	ok := true
	if b.cfg.Shortcut && b.shortcuts != nil {
		if err := b.shortcuts.Ensure(ctx, want); err != nil {
			b.log.Warn("start menu shortcut failed", logx.Err(err))
			ok = false
		}
	}

	b.mu.Lock()
	b.primed = ok
	b.mu.Unlock()
	return nil
}
