// Package freedesktop renders the live activity through the
// org.freedesktop.Notifications D-Bus service found on most Linux desktops.
//
// It is opt-in (backend.name: freedesktop); "auto" keeps the hard-failure
// policy on Linux. The tag is mapped to the server-assigned notification id
// so every render replaces the previous one in place.
package freedesktop

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"liveactivity/internal/backend"
	"liveactivity/pkg/logx"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = dbus.ObjectPath("/org/freedesktop/Notifications")
	iface      = "org.freedesktop.Notifications"

	DefaultAppName       = "liveactivity"
	DefaultExpireTimeout = 5 * time.Second
)

// Caller is the subset of dbus.BusObject the backend uses.
type Caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

type Config struct {
	AppName string
	// ExpireTimeout applies to finished notifications only; running ones
	// never expire.
	ExpireTimeout time.Duration
}

type Backend struct {
	obj  Caller
	conn *dbus.Conn
	cfg  Config
	log  logx.Logger

	mu  sync.Mutex
	ids map[string]uint32
}

var _ backend.Backend = (*Backend)(nil)

// Dial connects to the session bus.
func Dial(cfg Config, log logx.Logger) (*Backend, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	b := New(conn.Object(busName, objectPath), cfg, log)
	b.conn = conn
	return b, nil
}

func New(obj Caller, cfg Config, log logx.Logger) *Backend {
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}
	if cfg.ExpireTimeout <= 0 {
		cfg.ExpireTimeout = DefaultExpireTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Backend{
		obj: obj,
		cfg: cfg,
		log: log.With(logx.String("backend", backend.NameFreedesktop)),
		ids: map[string]uint32{},
	}
}

// Close releases the bus connection opened by Dial.
func (b *Backend) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

func (b *Backend) Name() string { return backend.NameFreedesktop }

func (b *Backend) NewTag(id string) string { return id }

func (b *Backend) Show(ctx context.Context, tag string, n backend.Notification) error {
	return b.notify(ctx, tag, n, 0)
}

func (b *Backend) Update(ctx context.Context, tag string, n backend.Notification) error {
	return b.notify(ctx, tag, n, 0)
}

func (b *Backend) Complete(ctx context.Context, tag string, n backend.Notification) error {
	return b.notify(ctx, tag, n, b.cfg.ExpireTimeout)
}

func (b *Backend) Clear(ctx context.Context, tag string) error {
	b.mu.Lock()
	id, ok := b.ids[tag]
	delete(b.ids, tag)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	if err := b.obj.CallWithContext(ctx, iface+".CloseNotification", 0, id).Err; err != nil {
		return fmt.Errorf("close notification %d: %w", id, err)
	}
	return nil
}

func (b *Backend) notify(ctx context.Context, tag string, n backend.Notification, expire time.Duration) error {
	b.mu.Lock()
	replaces := b.ids[tag]
	b.mu.Unlock()

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(byte(1)),
	}
	if n.Phase != backend.PhaseEnded {
		hints["value"] = dbus.MakeVariant(int32(math.Round(float64(n.Progress) * 100)))
	}
	if n.BundleID != "" {
		hints["desktop-entry"] = dbus.MakeVariant(n.BundleID)
	}

	timeout := int32(0)
	if expire > 0 {
		timeout = int32(expire / time.Millisecond)
	}

	var id uint32
	call := b.obj.CallWithContext(ctx, iface+".Notify", 0,
		b.cfg.AppName, replaces, n.Icon, summary(n), body(n), []string{}, hints, timeout)
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notify %s: %w", n.Phase, err)
	}

	b.mu.Lock()
	b.ids[tag] = id
	b.mu.Unlock()
	if replaces != 0 && id != replaces {
		b.log.Debug("notification server assigned a new id", logx.Uint64("old", uint64(replaces)), logx.Uint64("new", uint64(id)))
	}
	return nil
}

func summary(n backend.Notification) string {
	if n.Label == "" {
		return n.Title
	}
	return n.Title + " · " + n.Label
}

func body(n backend.Notification) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{n.Text, n.TaskName} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	out := strings.Join(parts, " · ")
	if n.Phase != backend.PhaseEnded && n.ProgressText != "" {
		if out != "" {
			out += " — "
		}
		out += n.ProgressText
	}
	return out
}
