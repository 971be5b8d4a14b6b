package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/time/rate"

	"remindbot/internal/engine"
	"remindbot/internal/eventbus"
	"remindbot/internal/relay"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// Service implements engine.Notifier. Alarms live on an in-process clock;
// when one goes off the rendered alert is handed to the delivery pipeline
// and, once sent, reported back to the relay as a Fired event.
//
// It is safe for concurrent use.
type Service struct {
	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus
	clock   *alarmClock
	limiter *rate.Limiter
	now     func() time.Time

	mu     sync.Mutex
	cfg    Config
	loc    *time.Location
	out    *delivery
	inbox  *rtsup.Supervisor
	events chan<- relay.Event
}

var _ engine.Notifier = (*Service)(nil)

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		adapter: adapter,
		bus:     bus,
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	s.clock = newAlarmClock(s.onAlarm)
	s.Apply(cfg)
	return s
}

// Apply swaps rendering and retry settings in place. Workers and QueueSize
// only take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}

	s.mu.Lock()
	s.cfg, s.loc = cfg, loc
	s.mu.Unlock()

	// Burst equals the per-second rate so a short spike of alerts goes out at once.
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.RatePerSec)
}

// Start launches the delivery workers and, when actions is non-nil, the
// loop turning keyboard presses into relay events. Calling Start on a
// running Service is a no-op.
//
// The workers outlive ctx: only Stop ends them, so alerts queued when the
// app begins shutting down are still sent.
func (s *Service) Start(ctx context.Context, actions <-chan kit.Action, events chan<- relay.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out != nil {
		return
	}
	s.events = events
	s.inbox = rtsup.NewSupervisor(context.WithoutCancel(ctx), rtsup.WithLogger(s.log))
	s.out = startDelivery(s.inbox.Context(), s.cfg.Workers, s.cfg.QueueSize, s.log, s.deliver)

	if actions != nil {
		s.inbox.Go0("actions", func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case act, ok := <-actions:
					if !ok {
						return
					}
					s.HandleAction(c, act)
				}
			}
		})
	}
	s.log.Info("notifier started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop disarms every alarm, then drains queued deliveries until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.clock.stop(ctx)

	s.mu.Lock()
	out, inbox := s.out, s.inbox
	s.out, s.inbox = nil, nil
	s.mu.Unlock()
	if out == nil {
		return
	}

	out.close(ctx)
	inbox.Cancel()
	if err := inbox.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("notifier stopped with error", logx.Err(err))
	}

	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

// Arm implements engine.Notifier. An existing alarm with the same id is replaced.
func (s *Service) Arm(_ context.Context, a engine.Alert) error {
	if err := s.clock.arm(a); err != nil {
		if errors.Is(err, errClockStopped) {
			return ErrStopped
		}
		return err
	}
	s.publish(EventArmed, AlertEvent{AlertID: a.ID, FiresAt: a.FiresAt})
	s.log.Debug("alert armed", logx.String("alert", a.ID), logx.Time("fires_at", a.FiresAt), logx.Bool("repeating", a.Repeating))
	return nil
}

// Cancel implements engine.Notifier. Unknown ids are ignored.
func (s *Service) Cancel(_ context.Context, ids mapset.Set[string]) error {
	if ids == nil || ids.Cardinality() == 0 {
		return nil
	}
	for _, id := range s.clock.cancel(ids.ToSlice()) {
		s.publish(EventCancelled, AlertEvent{AlertID: id})
		s.log.Debug("alert cancelled", logx.String("alert", id))
	}
	return nil
}

// Pending lists armed alarms ordered by next firing.
func (s *Service) Pending() []Pending { return s.clock.pending() }

// Surface queues a details message for r without reporting it as fired.
func (s *Service) Surface(_ context.Context, r reminder.Reminder) {
	s.submit(job{alertID: r.ID, msg: s.Details(r)})
}

// Details renders r the way Surface sends it.
func (s *Service) Details(r reminder.Reminder) tgui.Message {
	return renderDetails(r, s.now(), s.Location())
}

// Location is the zone instants are displayed in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func (s *Service) onAlarm(a engine.Alert, at time.Time) {
	_, backup := engine.ReminderIDFromAlert(a.ID)
	msg, err := renderAlert(a, backup, at, s.Location())
	if err != nil {
		s.log.Warn("alert render failed", logx.String("alert", a.ID), logx.Err(err))
	}
	s.submit(job{alertID: a.ID, msg: msg, fired: true})
}

func (s *Service) submit(j job) {
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()

	err := ErrStopped
	if out != nil {
		err = out.push(j)
	}
	if err != nil {
		s.log.Warn("alert dropped", logx.String("alert", j.alertID), logx.Err(err))
		s.publish(EventDropped, AlertEvent{AlertID: j.alertID, Error: err.Error()})
	}
}

// deliver sends one job, paced by the limiter and retried up to RetryMax times.
func (s *Service) deliver(ctx context.Context, j job) {
	if s.adapter == nil || strings.TrimSpace(j.msg.Text) == "" {
		return
	}
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	bo := backoff{base: cfg.RetryBase, limit: cfg.RetryMaxDelay}
	attempts := 1 + cfg.RetryMax

	var err error
	for n := range attempts {
		if n > 0 {
			t := time.NewTimer(bo.delay(n - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		if werr := s.limiter.Wait(ctx); werr != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err = j.msg.Send(callCtx, s.adapter, cfg.Target)
		cancel()
		if err == nil {
			at := s.now()
			s.publish(EventDelivered, AlertEvent{AlertID: j.alertID, At: at, Attempts: n + 1})
			if j.fired {
				s.emit(ctx, relay.Event{Kind: relay.KindFired, AlertID: j.alertID, At: at})
			}
			return
		}
		s.log.Debug("alert send failed", logx.String("alert", j.alertID), logx.Int("attempt", n+1), logx.Err(err))
	}

	s.log.Warn("alert delivery failed", logx.String("alert", j.alertID), logx.Int("attempts", attempts), logx.Err(err))
	s.publish(EventFailed, AlertEvent{AlertID: j.alertID, At: s.now(), Attempts: attempts, Error: err.Error()})
}

func (s *Service) emit(ctx context.Context, ev relay.Event) {
	s.mu.Lock()
	out := s.events
	s.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- ev:
	case <-ctx.Done():
		s.log.Warn("event dropped on shutdown", logx.String("alert", ev.AlertID), logx.String("kind", string(ev.Kind)))
	}
}

func (s *Service) publish(typ string, ev AlertEvent) {
	if s.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
