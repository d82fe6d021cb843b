package windows

import (
	"context"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveactivity/internal/backend"
	"liveactivity/pkg/logx"
)

type update struct {
	Tag  string
	Data ProgressData
}

type fakeToaster struct {
	mu        sync.Mutex
	shows     []Toast
	updates   []update
	removes   []string
	updateErr error
}

func (f *fakeToaster) Show(_ context.Context, t Toast) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shows = append(f.shows, t)
	return nil
}

func (f *fakeToaster) Update(_ context.Context, _, tag, _ string, d ProgressData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update{Tag: tag, Data: d})
	return f.updateErr
}

func (f *fakeToaster) Remove(_ context.Context, _, tag, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, tag)
	return nil
}

type fakeStore struct {
	writeErr  error
	stored    map[string]Identity
	tamper    func(Identity) Identity
	registers int
}

func newFakeStore() *fakeStore { return &fakeStore{stored: map[string]Identity{}} }

func (s *fakeStore) Register(id Identity) error {
	s.registers++
	if s.writeErr != nil {
		return s.writeErr
	}
	if s.tamper != nil {
		id = s.tamper(id)
	}
	s.stored[id.AppID] = id
	return nil
}

func (s *fakeStore) Lookup(appID string) (Identity, error) {
	id, ok := s.stored[appID]
	if !ok {
		return Identity{AppID: appID}, errors.New("missing")
	}
	return id, nil
}

type fakeShortcuts struct {
	err   error
	calls int
}

func (f *fakeShortcuts) Ensure(context.Context, Identity) error {
	f.calls++
	return f.err
}

func newBackend(t *testing.T, cfg Config) (*Backend, *fakeToaster, *fakeStore) {
	t.Helper()
	ft := &fakeToaster{}
	fs := newFakeStore()
	b := New(cfg, Deps{Toaster: ft, Identity: fs}, logx.Nop())
	return b, ft, fs
}

func note(phase backend.Phase, p float32, text string) backend.Notification {
	return backend.Notification{
		Phase: phase, Label: string(phase), Title: "Sync", Text: "Uploading",
		TaskName: "photos", TaskType: "upload", Progress: p, ProgressText: text,
	}
}

func TestNewTagUnique(t *testing.T) {
	var tick int64
	b := New(Config{}, Deps{Toaster: &fakeToaster{}, Identity: newFakeStore(), Now: func() time.Time {
		tick++
		return time.Unix(0, tick)
	}}, logx.Nop())

	a1 := b.NewTag("job")
	a2 := b.NewTag("job")
	assert.NotEqual(t, a1, a2)
	assert.Regexp(t, regexp.MustCompile(`^la-[0-9a-f]{16}$`), a1)
}

func TestSequenceNumbersIncrease(t *testing.T) {
	b, ft, _ := newBackend(t, Config{})
	ctx := context.Background()

	require.NoError(t, b.Show(ctx, "la-1", note(backend.PhaseStarted, 0, "0.0%")))
	require.NoError(t, b.Update(ctx, "la-1", note(backend.PhaseProgress, 0.3, "30%")))
	require.NoError(t, b.Update(ctx, "la-1", note(backend.PhaseProgress, 0.6, "60%")))

	require.Len(t, ft.shows, 1)
	assert.Equal(t, uint32(1), ft.shows[0].Data.Sequence)
	assert.True(t, ft.shows[0].Expires.IsZero(), "no expiration before completion")
	require.Len(t, ft.updates, 2)
	assert.Equal(t, uint32(2), ft.updates[0].Data.Sequence)
	assert.Equal(t, uint32(3), ft.updates[1].Data.Sequence)
	assert.Equal(t, "60%", ft.updates[1].Data.ValueText)
	assert.Equal(t, "photos", ft.updates[1].Data.Title)
	assert.Equal(t, "upload", ft.updates[1].Data.Status)
}

func TestCompleteSetsExpiration(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ft := &fakeToaster{}
	b := New(Config{ExpireAfter: 10 * time.Second}, Deps{Toaster: ft, Identity: newFakeStore(), Now: func() time.Time { return now }}, logx.Nop())
	ctx := context.Background()

	require.NoError(t, b.Show(ctx, "la-1", note(backend.PhaseStarted, 0, "0.0%")))
	c := note(backend.PhaseCompleted, 1, "100%")
	c.Label = "Completed"
	require.NoError(t, b.Complete(ctx, "la-1", c))

	require.Len(t, ft.shows, 2)
	done := ft.shows[1]
	assert.Equal(t, now.Add(10*time.Second), done.Expires)
	assert.Equal(t, uint32(2), done.Data.Sequence)
	assert.Equal(t, "Completed", done.Data.Status)

	b.mu.Lock()
	_, tracked := b.seq["la-1"]
	b.mu.Unlock()
	assert.False(t, tracked)
}

func TestUpdateFallsBackToShowWhenToastGone(t *testing.T) {
	b, ft, _ := newBackend(t, Config{})
	ft.updateErr = ErrToastNotFound
	ctx := context.Background()

	require.NoError(t, b.Show(ctx, "la-1", note(backend.PhaseStarted, 0, "0.0%")))
	require.NoError(t, b.Update(ctx, "la-1", note(backend.PhaseProgress, 0.5, "50%")))
	require.Len(t, ft.shows, 2)
	assert.Equal(t, float32(0.5), ft.shows[1].Data.Value)
}

func TestUpdateErrorIsWrapped(t *testing.T) {
	b, ft, _ := newBackend(t, Config{})
	ft.updateErr = errors.New("rpc failed")
	err := b.Update(context.Background(), "la-1", note(backend.PhaseProgress, 0.5, "50%"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update toast progress")
}

func TestIdentityWriteFailureIsNonFatal(t *testing.T) {
	b, ft, fs := newBackend(t, Config{})
	fs.writeErr = errors.New("access denied")
	ctx := context.Background()

	require.NoError(t, b.Show(ctx, "la-1", note(backend.PhaseStarted, 0, "0.0%")))
	require.NoError(t, b.Show(ctx, "la-2", note(backend.PhaseStarted, 0, "0.0%")))
	assert.Len(t, ft.shows, 2)
	assert.Equal(t, 2, fs.registers, "priming retried after a failed write")
}

func TestIdentityMismatchIsFatal(t *testing.T) {
	b, ft, fs := newBackend(t, Config{DisplayName: "Mine"})
	fs.tamper = func(id Identity) Identity {
		id.DisplayName = "Someone else"
		return id
	}
	ctx := context.Background()

	err := b.Show(ctx, "la-1", note(backend.PhaseStarted, 0, "0.0%"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify app identity")
	assert.Empty(t, ft.shows)

	fs.tamper = nil
	require.NoError(t, b.Show(ctx, "la-1", note(backend.PhaseStarted, 0, "0.0%")))
	require.NoError(t, b.Show(ctx, "la-2", note(backend.PhaseStarted, 0, "0.0%")))
	assert.Equal(t, 2, fs.registers, "primed once verification passed")
}

var errValueMissing = errors.New("value missing")

// valueKey models one registry key whose values outlive a registration.
type valueKey map[string]string

func (k valueKey) SetStringValue(name, value string) error {
	k[name] = value
	return nil
}

func (k valueKey) DeleteValue(name string) error {
	if _, ok := k[name]; !ok {
		return errValueMissing
	}
	delete(k, name)
	return nil
}

type keyStore struct{ keys map[string]valueKey }

func (s *keyStore) Register(id Identity) error {
	k, ok := s.keys[id.AppID]
	if !ok {
		k = valueKey{}
		s.keys[id.AppID] = k
	}
	return writeIdentity(k, id, errValueMissing)
}

func (s *keyStore) Lookup(appID string) (Identity, error) {
	k, ok := s.keys[appID]
	if !ok {
		return Identity{AppID: appID}, errValueMissing
	}
	return Identity{AppID: appID, DisplayName: k["DisplayName"], IconURI: k["IconUri"]}, nil
}

func TestClearedIconDropsStaleRegistryValue(t *testing.T) {
	store := &keyStore{keys: map[string]valueKey{}}
	ctx := context.Background()

	first := New(Config{AppID: "Acme.LA", DisplayName: "Acme", IconPath: `C:\\icons\\la.png`}, Deps{Toaster: &fakeToaster{}, Identity: store}, logx.Nop())
	require.NoError(t, first.Show(ctx, "la-1", note(backend.PhaseStarted, 0, "0.0%")))
	assert.Equal(t, `C:\\icons\\la.png`, store.keys["Acme.LA"]["IconUri"])

	ft := &fakeToaster{}
	second := New(Config{AppID: "Acme.LA", DisplayName: "Acme"}, Deps{Toaster: ft, Identity: store}, logx.Nop())
	require.NoError(t, second.Show(ctx, "la-2", note(backend.PhaseStarted, 0, "0.0%")))
	_, stale := store.keys["Acme.LA"]["IconUri"]
	assert.False(t, stale)
	assert.Len(t, ft.shows, 1)

	// A key that never had an icon is not an error.
	require.NoError(t, writeIdentity(valueKey{}, Identity{AppID: "x", DisplayName: "X"}, errValueMissing))
	assert.ErrorContains(t, writeIdentity(failingKey{}, Identity{AppID: "x"}, errValueMissing), "delete IconUri")
}

type failingKey struct{}

func (failingKey) SetStringValue(string, string) error { return nil }
func (failingKey) DeleteValue(string) error            { return errors.New("access denied") }

func TestShortcutFailureRetries(t *testing.T) {
	ft := &fakeToaster{}
	fs := newFakeStore()
	sc := &fakeShortcuts{err: errors.New("no shell")}
	b := New(Config{Shortcut: true}, Deps{Toaster: ft, Identity: fs, Shortcuts: sc}, logx.Nop())
	ctx := context.Background()

	require.NoError(t, b.Show(ctx, "la-1", note(backend.PhaseStarted, 0, "0.0%")))
	sc.err = nil
	require.NoError(t, b.Show(ctx, "la-1", note(backend.PhaseStarted, 0, "0.0%")))
	require.NoError(t, b.Show(ctx, "la-1", note(backend.PhaseStarted, 0, "0.0%")))
	assert.Equal(t, 2, sc.calls)
}

func TestClearRemovesToast(t *testing.T) {
	b, ft, _ := newBackend(t, Config{})
	require.NoError(t, b.Clear(context.Background(), "la-7"))
	assert.Equal(t, []string{"la-7"}, ft.removes)
}

type scriptRunner struct {
	scripts []string
	out     []byte
	err     error
}

func (r *scriptRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	enc := args[len(args)-1]
	raw, _ := base64.StdEncoding.DecodeString(enc)
	u := make([]uint16, len(raw)/2)
	for i := range u {
		u[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	r.scripts = append(r.scripts, string(utf16.Decode(u)))
	return r.out, r.err
}

func (r *scriptRunner) LookPath(name string) (string, error) { return name, nil }

func TestPowerShellToasterScripts(t *testing.T) {
	r := &scriptRunner{}
	p := NewPowerShellToaster(r)
	ctx := context.Background()

	require.NoError(t, p.Show(ctx, Toast{
		AppID: "App.Id", Tag: "la-1", Group: toastGroup,
		Title: "Tom's <sync>", Body: "Uploading",
		Data:    ProgressData{Title: "photos", Value: 0.25, ValueText: "25%", Sequence: 1},
		Expires: time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC),
	}))
	s := r.scripts[0]
	assert.Contains(t, s, "Tom&#39;s &lt;sync&gt;")
	assert.Contains(t, s, "$data.Values['progressValue'] = '0.2500'")
	assert.Contains(t, s, "$data.SequenceNumber = 1")
	assert.Contains(t, s, "[DateTimeOffset]::Parse('2026-01-01T00:00:05Z')")
	assert.Contains(t, s, "CreateToastNotifier('App.Id').Show($toast)")

	require.NoError(t, p.Show(ctx, Toast{AppID: "App.Id", Tag: "la-1"}))
	assert.NotContains(t, r.scripts[1], "ExpirationTime")

	r.out = []byte("update: NotificationNotFound")
	r.err = errors.New("exit status 3")
	err := p.Update(ctx, "App.Id", "la-1", toastGroup, ProgressData{Sequence: 2})
	assert.ErrorIs(t, err, ErrToastNotFound)
	assert.True(t, strings.Contains(r.scripts[2], ".Update($data, 'la-1', 'liveactivity')"))
}
