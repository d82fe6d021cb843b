// Package cleanup runs delayed, fire-and-forget tasks such as clearing a
// finished notification from the notification history after a grace period.
//
// Scheduled tasks cannot be cancelled individually. Stop waits for pending
// tasks until its context is done and then cancels the rest.
package cleanup

import (
	"context"
	"sync/atomic"
	"time"

	"liveactivity/internal/eventbus"
	"liveactivity/internal/metrics"
	rtsup "liveactivity/internal/runtime/supervisor"
	"liveactivity/pkg/logx"
)

const (
	DefaultDelay   = 3 * time.Second
	defaultTimeout = 10 * time.Second
)

// Task is one delayed action.
type Task func(ctx context.Context) error

type Service struct {
	sup     *rtsup.Supervisor
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics

	delay   atomic.Int64
	timeout time.Duration
	pending atomic.Int64
}

type Option func(*Service)

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithTaskTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }
func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

func New(parent context.Context, delay time.Duration, opts ...Option) *Service {
	s := &Service{log: logx.Nop(), timeout: defaultTimeout}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "cleanup"))
	s.sup = rtsup.New(parent, rtsup.WithLogger(s.log))
	s.SetDelay(delay)
	return s
}

// SetDelay changes the delay for tasks scheduled from now on.
func (s *Service) SetDelay(d time.Duration) {
	if d <= 0 {
		d = DefaultDelay
	}
	s.delay.Store(int64(d))
}

func (s *Service) Delay() time.Duration { return time.Duration(s.delay.Load()) }

// Pending is the number of scheduled tasks that have not finished.
func (s *Service) Pending() int64 { return s.pending.Load() }

// Schedule runs task after the current delay. Failures are logged and
// dropped.
func (s *Service) Schedule(name string, task Task) {
	if task == nil {
		return
	}
	delay := s.Delay()
	s.pending.Add(1)
	s.sup.Go("cleanup."+name, func(ctx context.Context) error {
		defer s.pending.Add(-1)

		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			s.log.Debug("cleanup cancelled before running", logx.String("name", name))
			return nil
		case <-t.C:
		}

		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := task(cctx)
		cancel()

		s.metrics.Cleanup(err)
		ev := eventbus.ActivityEvent{Tag: name, Op: "cleanup"}
		if err != nil {
			s.log.Debug("cleanup failed", logx.String("name", name), logx.Err(err))
			ev.Error = err.Error()
			s.publish(eventbus.CleanupFailed, ev)
			return nil
		}
		s.publish(eventbus.CleanupDone, ev)
		return nil
	})
}

func (s *Service) publish(typ string, ev eventbus.ActivityEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

// Stop waits for pending tasks until ctx is done, then cancels the rest and
// waits for them to return.
func (s *Service) Stop(ctx context.Context) error {
	err := s.sup.Wait(ctx)
	if err == nil {
		s.sup.Cancel()
		return nil
	}
	if n := s.Pending(); n > 0 {
		s.log.Warn("cancelling pending cleanups", logx.Int64("pending", n))
	}
	s.sup.Cancel()
	wctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.sup.Wait(wctx)
	return err
}
