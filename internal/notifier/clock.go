package notifier

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/engine"
)

// anchoredEvery fires every interval after anchor: anchor+every, anchor+2*every, ...
// Unlike cron.Every it does not drift with the time the entry was added.
type anchoredEvery struct {
	anchor time.Time
	every  time.Duration
}

func (s anchoredEvery) Next(t time.Time) time.Time {
	first := s.anchor.Add(s.every)
	if t.Before(first) {
		return first
	}
	k := t.Sub(s.anchor)/s.every + 1
	return s.anchor.Add(k * s.every)
}

type alarm struct {
	alert engine.Alert
	ver   uint64
	timer *time.Timer
	entry cron.EntryID
	sched cron.Schedule
}

// alarmClock keeps at most one alarm per alert id.
type alarmClock struct {
	mu     sync.Mutex
	c      *cron.Cron
	alarms map[string]*alarm
	seq    uint64
	closed bool

	now  func() time.Time
	fire func(a engine.Alert, at time.Time)
}

func newAlarmClock(fire func(engine.Alert, time.Time)) *alarmClock {
	k := &alarmClock{
		c:      cron.New(cron.WithLocation(time.UTC)),
		alarms: map[string]*alarm{},
		now:    time.Now,
		fire:   fire,
	}
	k.c.Start()
	return k
}

var errClockStopped = errors.New("alarm clock stopped")

func validAlert(a engine.Alert) error {
	switch {
	case strings.TrimSpace(a.ID) == "":
		return errors.New("alert id is empty")
	case a.FiresAt.IsZero():
		return errors.New("alert fire time is zero")
	case a.Repeating && a.Interval <= 0:
		return errors.New("repeating alert needs a positive interval")
	}
	return nil
}

// arm replaces any alarm with the same id.
func (k *alarmClock) arm(a engine.Alert) error {
	if err := validAlert(a); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errClockStopped
	}
	k.removeLocked(a.ID)

	// bump version to ignore stale callbacks from replaced alarms
	k.seq++
	ver := k.seq
	id := a.ID
	al := &alarm{alert: a, ver: ver}
	if a.Repeating {
		al.sched = anchoredEvery{anchor: a.FiresAt, every: a.Interval}
		al.entry = k.c.Schedule(al.sched, cron.FuncJob(func() { k.onFire(id, ver) }))
	} else {
		delay := a.FiresAt.Sub(k.now())
		if delay < 0 {
			delay = 0
		}
		al.timer = time.AfterFunc(delay, func() { k.onFire(id, ver) })
	}
	k.alarms[id] = al
	return nil
}

// cancel removes the given ids and returns the ones that were armed.
func (k *alarmClock) cancel(ids []string) []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	var removed []string
	for _, id := range ids {
		if k.removeLocked(id) {
			removed = append(removed, id)
		}
	}
	return removed
}

func (k *alarmClock) removeLocked(id string) bool {
	al, ok := k.alarms[id]
	if !ok {
		return false
	}
	if al.timer != nil {
		_ = al.timer.Stop()
	}
	if al.entry != 0 {
		k.c.Remove(al.entry)
	}
	delete(k.alarms, id)
	return true
}

func (k *alarmClock) onFire(id string, ver uint64) {
	k.mu.Lock()
	al, ok := k.alarms[id]
	if !ok || al.ver != ver || k.closed {
		k.mu.Unlock()
		return
	}
	if !al.alert.Repeating {
		delete(k.alarms, id)
	}
	a := al.alert
	k.mu.Unlock()

	k.fire(a, k.now())
}

func (k *alarmClock) pending() []Pending {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	out := make([]Pending, 0, len(k.alarms))
	for id, al := range k.alarms {
		p := Pending{ID: id, Next: al.alert.FiresAt, Repeating: al.alert.Repeating}
		if al.sched != nil {
			p.Next = al.sched.Next(now)
			p.Interval = al.alert.Interval
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Next.Equal(out[j].Next) {
			return out[i].Next.Before(out[j].Next)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// stop drops every alarm and waits for running cron jobs until ctx is done.
func (k *alarmClock) stop(ctx context.Context) {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	k.closed = true
	for id := range k.alarms {
		k.removeLocked(id)
	}
	k.mu.Unlock()

	select {
	case <-k.c.Stop().Done():
	case <-ctx.Done():
	}
}
