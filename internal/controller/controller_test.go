package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveactivity/internal/activity"
	"liveactivity/internal/backend"
	"liveactivity/internal/backend/backendtest"
	"liveactivity/internal/cleanup"
	"liveactivity/internal/eventbus"
	"liveactivity/internal/session"
)

type queue struct {
	mu    sync.Mutex
	names []string
	tasks []cleanup.Task
}

func (q *queue) Schedule(name string, task cleanup.Task) {
	q.mu.Lock()
	q.names = append(q.names, name)
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
}

func (q *queue) runAll(t *testing.T) {
	t.Helper()
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, task := range tasks {
		_ = task(context.Background())
	}
}

type fixture struct {
	c   *Controller
	rec *backendtest.Recorder
	reg *session.Registry
	q   *queue
	bus eventbus.Bus
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	rec := backendtest.New()
	rec.TagFunc = func(id string) string { return "tag-" + id }
	reg := session.NewRegistry()
	q := &queue{}
	bus := eventbus.New()
	c := New(reg, rec, Options{Cleanup: q, Bus: bus})
	return fixture{c: c, rec: rec, reg: reg, q: q, bus: bus}
}

func createReq(id string, state map[string]string) activity.CreateRequest {
	return activity.CreateRequest{
		Version: 1,
		Content: activity.Content{TaskQueue: &activity.TaskQueue{
			ID:       id,
			Title:    "Backup",
			Text:     "Copying files",
			TaskName: "photos",
			TaskType: "sync",
			TaskIcon: "icon.png",
			State:    state,
		}},
	}
}

func TestCreateShowsStartedRender(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.Create(context.Background(), createReq("a1", map[string]string{"progress": "0.25"})))

	call, ok := f.rec.Last()
	require.True(t, ok)
	assert.Equal(t, "Show", call.Method)
	assert.Equal(t, "tag-a1", call.Tag)
	assert.Equal(t, backend.PhaseStarted, call.N.Phase)
	assert.Equal(t, backend.DefaultLabels.Started, call.N.Label)
	assert.Equal(t, float32(0.25), call.N.Progress)
	assert.Equal(t, "25.0%", call.N.ProgressText)
	assert.Equal(t, "photos", call.N.TaskName)

	sess, ok := f.c.Current()
	require.True(t, ok)
	assert.Equal(t, "tag-a1", sess.Tag)
	assert.Equal(t, "a1", sess.Metadata.ID)
}

func TestCreateLogoAndBundleOverrides(t *testing.T) {
	f := newFixture(t)
	state := map[string]string{"logo": "/tmp/logo.png", "bundle_id": "com.example.app"}
	require.NoError(t, f.c.Create(context.Background(), createReq("a1", state)))

	call, _ := f.rec.Last()
	assert.Equal(t, "/tmp/logo.png", call.N.Icon)
	assert.Equal(t, "com.example.app", call.N.BundleID)
	assert.Equal(t, float32(0), call.N.Progress)
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)
	err := f.c.Create(context.Background(), activity.CreateRequest{})
	assert.ErrorIs(t, err, activity.ErrInvalidRequest)
	assert.Empty(t, f.rec.Calls())
	assert.False(t, f.reg.Active())
}

func TestCreateFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	ch, unsub := f.bus.Subscribe(4, eventbus.ActivityFailed)
	defer unsub()
	f.rec.Fail("Show", errors.New("toast refused"))

	err := f.c.Create(context.Background(), createReq("a1", nil))
	require.Error(t, err)
	var be *activity.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, OpCreate, be.Op)
	assert.Equal(t, "recorder", be.Backend)
	assert.True(t, f.reg.Active())

	ev := (<-ch).Data.(eventbus.ActivityEvent)
	assert.Equal(t, "tag-a1", ev.Tag)
	assert.Contains(t, ev.Error, "toast refused")
}

func TestUpdateWhileIdle(t *testing.T) {
	f := newFixture(t)
	err := f.c.Update(context.Background(), activity.UpdateRequest{State: map[string]string{"progress": "0.5"}})
	assert.ErrorIs(t, err, activity.ErrNoActiveSession)
	assert.Empty(t, f.rec.Calls())
}

func TestUpdateRendersPercent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.Create(ctx, createReq("a1", nil)))
	require.NoError(t, f.c.Update(ctx, activity.UpdateRequest{State: map[string]string{"percent": "80"}}))

	call, _ := f.rec.Last()
	assert.Equal(t, "Update", call.Method)
	assert.Equal(t, "tag-a1", call.Tag)
	assert.Equal(t, backend.PhaseProgress, call.N.Phase)
	assert.Equal(t, backend.DefaultLabels.InProgress, call.N.Label)
	assert.InDelta(t, 0.8, call.N.Progress, 1e-6)
	assert.Equal(t, "80%", call.N.ProgressText)
	// Metadata captured at create time rides along on every render.
	assert.Equal(t, "Backup", call.N.Title)
	assert.Equal(t, "icon.png", call.N.Icon)
	assert.True(t, f.reg.Active())
}

func TestUpdateFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.Create(ctx, createReq("a1", nil)))
	f.rec.Fail("Update", errors.New("bus gone"))

	err := f.c.Update(ctx, activity.UpdateRequest{State: map[string]string{"progress": "0.3"}})
	var be *activity.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, OpUpdate, be.Op)
	assert.True(t, f.reg.Active())
}

func TestCompletionClearsSessionAndSchedulesClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.Create(ctx, createReq("a1", nil)))
	require.NoError(t, f.c.Update(ctx, activity.UpdateRequest{State: map[string]string{"progress": "1.0"}}))

	call, _ := f.rec.Last()
	assert.Equal(t, "Complete", call.Method)
	assert.Equal(t, backend.PhaseCompleted, call.N.Phase)
	assert.Equal(t, backend.DefaultLabels.Completed, call.N.Label)
	assert.Equal(t, float32(1), call.N.Progress)
	assert.Equal(t, "100%", call.N.ProgressText)
	assert.False(t, f.reg.Active())

	assert.Equal(t, []string{"tag-a1"}, f.q.names)
	f.q.runAll(t)
	last, _ := f.rec.Last()
	assert.Equal(t, "Clear", last.Method)
	assert.Equal(t, "tag-a1", last.Tag)

	// The next update has nothing to render.
	err := f.c.Update(ctx, activity.UpdateRequest{State: map[string]string{"progress": "0.1"}})
	assert.ErrorIs(t, err, activity.ErrNoActiveSession)
}

func TestPercentHundredCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.Create(ctx, createReq("a1", nil)))
	require.NoError(t, f.c.Update(ctx, activity.UpdateRequest{State: map[string]string{"percent": "100"}}))
	assert.False(t, f.reg.Active())
}

func TestCompletionFailureStillClears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.Create(ctx, createReq("a1", nil)))
	f.rec.Fail("Complete", errors.New("denied"))

	err := f.c.Update(ctx, activity.UpdateRequest{State: map[string]string{"progress": "1"}})
	var be *activity.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, OpComplete, be.Op)
	assert.False(t, f.reg.Active())
	assert.Len(t, f.q.names, 1)
}

func TestCompletionDoesNotClearNewerSession(t *testing.T) {
	rec := backendtest.New()
	rec.TagFunc = func(id string) string { return "tag-" + id }
	reg := session.NewRegistry()
	c := New(reg, &racingBackend{Recorder: rec, reg: reg}, Options{})
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, createReq("a1", nil)))
	require.NoError(t, c.Update(ctx, activity.UpdateRequest{State: map[string]string{"progress": "1"}}))

	sess, ok := reg.Get()
	require.True(t, ok)
	assert.Equal(t, "tag-b2", sess.Tag)
}

// racingBackend installs a newer session while the completion render is in
// flight.
type racingBackend struct {
	*backendtest.Recorder
	reg *session.Registry
}

func (r *racingBackend) Complete(ctx context.Context, tag string, n backend.Notification) error {
	r.reg.Set("tag-b2", session.Metadata{ID: "b2"})
	return r.Recorder.Complete(ctx, tag, n)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch, unsub := f.bus.Subscribe(4, eventbus.ActivityRemoved)
	defer unsub()

	require.NoError(t, f.c.Remove(ctx))
	assert.Empty(t, f.rec.Calls())

	require.NoError(t, f.c.Create(ctx, createReq("a1", nil)))
	f.rec.Fail("Complete", errors.New("ignored"))
	require.NoError(t, f.c.Remove(ctx))

	call, _ := f.rec.Last()
	assert.Equal(t, "Complete", call.Method)
	assert.Equal(t, backend.PhaseEnded, call.N.Phase)
	assert.Equal(t, backend.DefaultLabels.Ended, call.N.Label)
	assert.Equal(t, float32(1), call.N.Progress)
	assert.Equal(t, "100%", call.N.ProgressText)
	assert.False(t, f.reg.Active())
	assert.Equal(t, []string{"tag-a1"}, f.q.names)
	assert.Equal(t, "a1", (<-ch).Data.(eventbus.ActivityEvent).ID)
}

func TestUpdateAfterRemoveFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.Create(ctx, createReq("a1", nil)))
	require.NoError(t, f.c.Remove(ctx))
	calls := len(f.rec.Calls())

	err := f.c.Update(ctx, activity.UpdateRequest{State: map[string]string{"progress": "0.5"}})
	assert.ErrorIs(t, err, activity.ErrNoActiveSession)
	assert.Len(t, f.rec.Calls(), calls, "no backend call after remove")
}

func TestRemoveTwiceAfterCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.Create(ctx, createReq("a1", nil)))
	require.NoError(t, f.c.Remove(ctx))
	require.NoError(t, f.c.Remove(ctx))

	assert.Equal(t, []string{"Show", "Complete"}, f.rec.Methods())
	assert.Equal(t, []string{"tag-a1"}, f.q.names)
	assert.False(t, f.reg.Active())
}

func TestCreateReplacesActiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.Create(ctx, createReq("a1", nil)))
	require.NoError(t, f.c.Create(ctx, createReq("b2", nil)))
	require.NoError(t, f.c.Update(ctx, activity.UpdateRequest{State: map[string]string{"progress": "0.5"}}))

	call, _ := f.rec.Last()
	assert.Equal(t, "tag-b2", call.Tag)
}

func TestSetLabels(t *testing.T) {
	f := newFixture(t)
	f.c.SetLabels(backend.Labels{Started: "Gestartet"})
	require.NoError(t, f.c.Create(context.Background(), createReq("a1", nil)))

	call, _ := f.rec.Last()
	assert.Equal(t, "Gestartet", call.N.Label)
	assert.Equal(t, backend.DefaultLabels.Completed, f.c.Labels().Completed)
}

func TestConcurrentOperationsKeepOneSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch i % 3 {
			case 0:
				_ = f.c.Create(ctx, createReq("a", map[string]string{"progress": "0.1"}))
			case 1:
				_ = f.c.Update(ctx, activity.UpdateRequest{State: map[string]string{"progress": "0.5"}})
			default:
				_ = f.c.Remove(ctx)
			}
		}()
	}
	wg.Wait()

	if sess, ok := f.c.Current(); ok {
		assert.Equal(t, "tag-a", sess.Tag)
		assert.Equal(t, "a", sess.Metadata.ID)
	}
}

func TestEventsCarryProgress(t *testing.T) {
	f := newFixture(t)
	ch, unsub := f.bus.Subscribe(8, eventbus.ActivityCreated, eventbus.ActivityUpdated, eventbus.ActivityCompleted)
	defer unsub()
	ctx := context.Background()

	require.NoError(t, f.c.Create(ctx, createReq("a1", nil)))
	require.NoError(t, f.c.Update(ctx, activity.UpdateRequest{State: map[string]string{"progress": "0.5"}}))
	require.NoError(t, f.c.Update(ctx, activity.UpdateRequest{State: map[string]string{"progress": "1"}}))

	var types []string
	for range 3 {
		select {
		case e := <-ch:
			types = append(types, e.Type)
			assert.False(t, e.Time.IsZero())
		case <-time.After(time.Second):
			t.Fatal("missing event")
		}
	}
	assert.Equal(t, []string{eventbus.ActivityCreated, eventbus.ActivityUpdated, eventbus.ActivityCompleted}, types)
}
