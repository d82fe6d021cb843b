// Package controller implements the live-activity state machine:
// Idle -> Active on create, Active -> Active on progress updates, and
// Active -> Idle on completion or remove.
//
// The controller owns no state of its own. The session registry holds the
// active tag and metadata, the backend renders, and the cleanup service
// clears finished notifications after a grace period. The registry lock is
// never held across a backend call.
package controller

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"liveactivity/internal/activity"
	"liveactivity/internal/backend"
	"liveactivity/internal/cleanup"
	"liveactivity/internal/eventbus"
	"liveactivity/internal/metrics"
	"liveactivity/internal/session"
	"liveactivity/pkg/logx"
)

// Operation names used in BackendError.Op.
const (
	OpCreate   = "create live activity"
	OpUpdate   = "update live activity"
	OpComplete = "complete live activity"
)

// completedText is shown on the completion render regardless of the
// caller's last progress text.
const completedText = "100%"

// Scheduler runs delayed fire-and-forget tasks.
type Scheduler interface {
	Schedule(name string, task cleanup.Task)
}

type Options struct {
	Labels  backend.Labels
	Cleanup Scheduler
	Bus     eventbus.Bus
	Metrics *metrics.Metrics
	Logger  logx.Logger
	Now     func() time.Time
}

type Controller struct {
	reg     *session.Registry
	be      backend.Backend
	cleanup Scheduler
	bus     eventbus.Bus
	metrics *metrics.Metrics
	log     logx.Logger
	now     func() time.Time

	labels atomic.Pointer[backend.Labels]
}

func New(reg *session.Registry, be backend.Backend, opts Options) *Controller {
	if opts.Logger.IsZero() {
		opts.Logger = logx.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Controller{
		reg:     reg,
		be:      be,
		cleanup: opts.Cleanup,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		log:     opts.Logger.With(logx.String("comp", "controller"), logx.String("backend", be.Name())),
		now:     opts.Now,
	}
	c.SetLabels(opts.Labels)
	return c
}

// SetLabels swaps the phase captions; empty labels fall back to defaults.
func (c *Controller) SetLabels(l backend.Labels) {
	l = l.WithDefaults()
	c.labels.Store(&l)
}

func (c *Controller) Labels() backend.Labels { return *c.labels.Load() }

// Backend returns the backend renders go to.
func (c *Controller) Backend() backend.Backend { return c.be }

// Current returns the active session, if any.
func (c *Controller) Current() (session.Session, bool) { return c.reg.Get() }

// Create starts a new activity, replacing any active one. The registry keeps
// the new session even when the show fails, so a later update can still
// render it.
func (c *Controller) Create(ctx context.Context, req activity.CreateRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	tq := req.Content.TaskQueue
	p := activity.ParseProgress(tq.State)

	meta := session.Metadata{
		ID:        tq.ID,
		Title:     tq.Title,
		Text:      tq.Text,
		Icon:      tq.TaskIcon,
		BundleID:  strings.TrimSpace(tq.State[activity.KeyBundleID]),
		TaskName:  tq.TaskName,
		TaskType:  tq.TaskType,
		CreatedAt: c.now(),
	}
	if logo := strings.TrimSpace(tq.State[activity.KeyLogo]); logo != "" {
		meta.Icon = logo
	}

	tag := c.be.NewTag(tq.ID)
	if prev, ok := c.reg.Get(); ok && prev.Tag != tag {
		c.log.Debug("replacing active live activity", logx.String("prev_tag", prev.Tag), logx.String("tag", tag))
	}
	c.reg.Set(tag, meta)
	c.metrics.SetActive(true)

	n := c.render(meta, backend.PhaseStarted, p)
	if err := c.be.Show(ctx, tag, n); err != nil {
		return c.failed(OpCreate, tag, meta, p, err)
	}

	c.log.Info("live activity created", logx.Activity(meta.ID, tag), logx.Progress(p.Fraction, p.Text))
	c.metrics.Transition("created")
	c.publish(eventbus.ActivityCreated, tag, meta, p, nil)
	return nil
}

// Update renders new progress. A fraction within float32 epsilon of 1.0
// completes the activity: the completion render is sent, cleanup is
// scheduled and the session is cleared whether or not the render worked.
func (c *Controller) Update(ctx context.Context, req activity.UpdateRequest) error {
	sess, ok := c.reg.Get()
	if !ok {
		return activity.ErrNoActiveSession
	}
	if sess.Metadata == (session.Metadata{}) {
		return activity.ErrMetadataMissing
	}
	p := activity.ParseProgress(req.State)

	if p.Complete() {
		return c.complete(ctx, sess)
	}

	n := c.render(sess.Metadata, backend.PhaseProgress, p)
	if err := c.be.Update(ctx, sess.Tag, n); err != nil {
		return c.failed(OpUpdate, sess.Tag, sess.Metadata, p, err)
	}
	c.log.Debug("live activity updated", logx.Activity(sess.Metadata.ID, sess.Tag), logx.Progress(p.Fraction, p.Text))
	c.metrics.Transition("updated")
	c.publish(eventbus.ActivityUpdated, sess.Tag, sess.Metadata, p, nil)
	return nil
}

func (c *Controller) complete(ctx context.Context, sess session.Session) error {
	p := activity.Progress{Fraction: 1, Text: completedText}
	n := c.render(sess.Metadata, backend.PhaseCompleted, p)
	err := c.be.Complete(ctx, sess.Tag, n)

	c.scheduleClear(sess.Tag)
	if c.reg.ClearIf(sess.Tag) {
		c.metrics.SetActive(false)
	} else {
		c.log.Debug("session replaced before completion cleared it", logx.String("tag", sess.Tag))
	}

	if err != nil {
		return c.failed(OpComplete, sess.Tag, sess.Metadata, p, err)
	}
	c.log.Info("live activity completed", logx.Activity(sess.Metadata.ID, sess.Tag))
	c.metrics.Transition("completed")
	c.publish(eventbus.ActivityCompleted, sess.Tag, sess.Metadata, p, nil)
	return nil
}

// Remove ends the active activity. It never returns backend errors; removing
// while idle is a no-op.
func (c *Controller) Remove(ctx context.Context) error {
	sess, ok := c.reg.Take()
	if !ok {
		return nil
	}
	c.metrics.SetActive(false)

	n := c.render(sess.Metadata, backend.PhaseEnded, activity.Progress{Fraction: 1, Text: completedText})
	if err := c.be.Complete(ctx, sess.Tag, n); err != nil {
		c.log.Debug("ended render failed", logx.String("tag", sess.Tag), logx.Err(err))
	}
	c.scheduleClear(sess.Tag)

	c.log.Info("live activity removed", logx.Activity(sess.Metadata.ID, sess.Tag))
	c.metrics.Transition("removed")
	c.publish(eventbus.ActivityRemoved, sess.Tag, sess.Metadata, activity.Progress{}, nil)
	return nil
}

func (c *Controller) render(meta session.Metadata, phase backend.Phase, p activity.Progress) backend.Notification {
	return backend.Notification{
		Phase:        phase,
		Label:        c.Labels().For(phase),
		Title:        meta.Title,
		Text:         meta.Text,
		Icon:         meta.Icon,
		BundleID:     meta.BundleID,
		TaskName:     meta.TaskName,
		TaskType:     meta.TaskType,
		Progress:     p.Fraction,
		ProgressText: p.Text,
	}
}

func (c *Controller) scheduleClear(tag string) {
	if c.cleanup == nil {
		return
	}
	be := c.be
	c.cleanup.Schedule(tag, func(ctx context.Context) error { return be.Clear(ctx, tag) })
}

func (c *Controller) failed(op, tag string, meta session.Metadata, p activity.Progress, err error) error {
	be := &activity.BackendError{Op: op, Backend: c.be.Name(), Err: err}
	c.log.Warn("live activity render failed", logx.String("op", op), logx.Activity(meta.ID, tag), logx.Progress(p.Fraction, p.Text), logx.Err(err))
	c.metrics.Transition("failed")
	c.publish(eventbus.ActivityFailed, tag, meta, p, be)
	return be
}

func (c *Controller) publish(typ, tag string, meta session.Metadata, p activity.Progress, err error) {
	if c.bus == nil {
		return
	}
	ev := eventbus.ActivityEvent{
		ID:           meta.ID,
		Tag:          tag,
		Backend:      c.be.Name(),
		Title:        meta.Title,
		Progress:     p.Fraction,
		ProgressText: p.Text,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	c.bus.Publish(eventbus.Event{Type: typ, Time: c.now(), Data: ev})
}
