// Package macos renders the live activity through the macOS notification
// center.
//
// Permission is primed lazily on the first render: the authorization status
// is queried (bounded), a NotDetermined status triggers one bounded request,
// and a denied, refused or timed-out outcome opens the notification settings
// pane. Both steps are latched per backend instance.
package macos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"liveactivity/internal/activity"
	"liveactivity/internal/backend"
	"liveactivity/pkg/logx"
)

const (
	DefaultStatusTimeout  = 2 * time.Second
	DefaultRequestTimeout = 4 * time.Second
)

// DefaultSettingsURLs are tried in order; the first is the Settings
// extension on Ventura and later, the second the legacy preference pane.
var DefaultSettingsURLs = []string{
	"x-apple.systempreferences:com.apple.Notifications-Settings.extension",
	"x-apple.systempreferences:com.apple.preference.notifications",
}

var errTimeout = errors.New("timed out")

type Config struct {
	// Sender is the bundle id used when a request carries none.
	Sender         string
	SettingsURLs   []string
	StatusTimeout  time.Duration
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.StatusTimeout <= 0 {
		c.StatusTimeout = DefaultStatusTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if len(c.SettingsURLs) == 0 {
		c.SettingsURLs = append([]string(nil), DefaultSettingsURLs...)
	}
	return c
}

type Backend struct {
	center Center
	cfg    Config
	log    logx.Logger

	mu              sync.Mutex
	permissionAsked bool
	settingsOpened  bool
}

var _ backend.Backend = (*Backend)(nil)

func New(center Center, cfg Config, log logx.Logger) *Backend {
	if center == nil {
		center = NewCommandCenter(nil)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Backend{
		center: center,
		cfg:    cfg.withDefaults(),
		log:    log.With(logx.String("backend", backend.NameMacOS)),
	}
}

func (b *Backend) Name() string { return backend.NameMacOS }

// NewTag reuses the request id; the notification group replaces in place.
func (b *Backend) NewTag(id string) string { return id }

func (b *Backend) Show(ctx context.Context, tag string, n backend.Notification) error {
	b.ensurePermission(ctx)
	return b.send(ctx, tag, n)
}

func (b *Backend) Update(ctx context.Context, tag string, n backend.Notification) error {
	return b.send(ctx, tag, n)
}

func (b *Backend) Complete(ctx context.Context, tag string, n backend.Notification) error {
	return b.send(ctx, tag, n)
}

func (b *Backend) Clear(ctx context.Context, tag string) error {
	if err := b.center.Remove(ctx, tag); err != nil {
		return fmt.Errorf("remove delivered notifications: %w", err)
	}
	return nil
}

// ResetLatches forgets the permission and settings latches.
func (b *Backend) ResetLatches() {
	b.mu.Lock()
	b.permissionAsked = false
	b.settingsOpened = false
	b.mu.Unlock()
}

func (b *Backend) ensurePermission(ctx context.Context) {
	b.mu.Lock()
	if b.permissionAsked {
		b.mu.Unlock()
		return
	}
	b.permissionAsked = true
	b.mu.Unlock()

	status, err := bounded(ctx, b.cfg.StatusTimeout, b.center.AuthorizationStatus)
	if err != nil {
		b.log.Warn("notification status query failed", logx.Err(err))
		b.openSettingsOnce(ctx)
		return
	}
	b.log.Debug("notification authorization", logx.String("status", status.String()))

	switch status {
	case AuthAuthorized, AuthProvisional, AuthEphemeral:
	case AuthNotDetermined:
		granted, err := bounded(ctx, b.cfg.RequestTimeout, b.center.RequestAuthorization)
		if err != nil || !granted {
			b.log.Warn("notification permission not granted", logx.Bool("granted", granted), logx.Err(err))
			b.openSettingsOnce(ctx)
		}
	case AuthDenied:
		b.openSettingsOnce(ctx)
	}
}

func (b *Backend) openSettingsOnce(ctx context.Context) {
	b.mu.Lock()
	if b.settingsOpened {
		b.mu.Unlock()
		return
	}
	b.settingsOpened = true
	b.mu.Unlock()

	for _, u := range b.cfg.SettingsURLs {
		err := b.center.OpenSettings(ctx, u)
		if err == nil {
			b.log.Info("opened notification settings", logx.String("url", u))
			return
		}
		b.log.Debug("open settings failed", logx.String("url", u), logx.Err(err))
	}
}

func (b *Backend) send(ctx context.Context, tag string, n backend.Notification) error {
	msg := b.layout(tag, n)
	if err := b.center.Send(ctx, msg); err != nil {
		b.openSettingsOnce(ctx)
		return fmt.Errorf("post %s notification: %w", n.Phase, err)
	}
	return nil
}

func (b *Backend) layout(tag string, n backend.Notification) Message {
	m := Message{
		Group:  tag,
		Title:  n.Title,
		Icon:   n.Icon,
		Sender: n.BundleID,
	}
	if m.Sender == "" {
		m.Sender = b.cfg.Sender
	}
	switch n.Phase {
	case backend.PhaseStarted:
		m.Subtitle = n.TaskType
		head := n.Text
		if n.TaskName != "" {
			head = joinNonEmpty(" · ", n.Text, n.TaskName)
		}
		m.Body = joinNonEmpty(" — ", head, n.ProgressText)
	case backend.PhaseProgress, backend.PhaseCompleted:
		m.Subtitle = n.Label
		m.Body = joinNonEmpty(" — ", n.Text, n.ProgressText)
	default:
		m.Subtitle = n.Label
		m.Body = n.Text
	}
	return m
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

// bounded runs fn and gives up after d. The call itself keeps running in the
// background when it ignores ctx; its late result is dropped.
func bounded[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-cctx.Done():
		var zero T
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s: %w", errTimeout, d, activity.ErrPermissionDenied)
		}
		return zero, cctx.Err()
	}
}
