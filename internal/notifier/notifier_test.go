package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	tele "gopkg.in/telebot.v4"

	"remindbot/internal/engine"
	"remindbot/internal/eventbus"
	"remindbot/internal/relay"
	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

type sent struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	mu       sync.Mutex
	failN    int
	attempts int
	sent     []sent
	answers  []string
	cleared  []int
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) ClearKeyboard(ctx context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, ref.MessageID)
	return nil
}

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failN > 0 {
		f.failN--
		return kit.MessageRef{}, errors.New("telegram: 502 bad gateway")
	}
	f.sent = append(f.sent, sent{to: to, text: text, opt: opt})
	return kit.MessageRef{Chat: to, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) snapshot() ([]sent, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...), f.attempts
}

func startService(t *testing.T, cfg Config, ad kit.Adapter, bus eventbus.Bus) (*Service, <-chan relay.Event) {
	t.Helper()
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	s := New(cfg, ad, logx.Nop(), bus)
	events := make(chan relay.Event, 16)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx, nil, events)
	t.Cleanup(func() {
		stopCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
		defer c()
		s.Stop(stopCtx)
		cancel()
	})
	return s, events
}

func waitEvent(t *testing.T, events <-chan relay.Event) relay.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return relay.Event{}
}

func primary(id string, in time.Duration) engine.Alert {
	return engine.Alert{
		ID:      engine.PrimaryID(id),
		FiresAt: time.Now().Add(in),
		Payload: engine.Payload{Title: "Dentist <3pm>", Sound: reminder.SoundDefault, ReminderID: id, EventTime: time.Now().Add(time.Hour)},
	}
}

func TestAnchoredEveryNext(t *testing.T) {
	t.Parallel()
	anchor := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s := anchoredEvery{anchor: anchor, every: time.Hour}
	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"before anchor", anchor.Add(-24 * time.Hour), anchor.Add(time.Hour)},
		{"at anchor", anchor, anchor.Add(time.Hour)},
		{"inside first period", anchor.Add(30 * time.Minute), anchor.Add(time.Hour)},
		{"exactly on a firing", anchor.Add(2 * time.Hour), anchor.Add(3 * time.Hour)},
		{"later", anchor.Add(5*time.Hour + time.Second), anchor.Add(6 * time.Hour)},
	}
	for _, tt := range tests {
		if got := s.Next(tt.at); !got.Equal(tt.want) {
			t.Fatalf("%s: Next(%s) = %s, want %s", tt.name, tt.at, got, tt.want)
		}
	}
}

func TestPrimaryFiresAndEmitsFired(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	target := kit.ChatTarget{ChatID: 42, ThreadID: 7}
	s, events := startService(t, Config{Target: target}, ad, nil)

	if err := s.Arm(context.Background(), primary("r1", 20*time.Millisecond)); err != nil {
		t.Fatalf("Arm error: %v", err)
	}
	ev := waitEvent(t, events)
	if ev.Kind != relay.KindFired || ev.AlertID != "r1" {
		t.Fatalf("event = %+v, want fired r1", ev)
	}

	msgs, _ := ad.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.to != target {
		t.Fatalf("target = %+v, want %+v", m.to, target)
	}
	if !strings.Contains(m.text, "Dentist &lt;3pm&gt;") {
		t.Fatalf("text not escaped: %q", m.text)
	}
	rm, ok := m.opt.Markup.(*tele.ReplyMarkup)
	if !ok || len(rm.InlineKeyboard) != 3 {
		t.Fatalf("keyboard = %#v, want 3 rows", m.opt.Markup)
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("one-shot alarm still pending: %+v", s.Pending())
	}
}

func TestBackupRepeatsUntilCancelled(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, events := startService(t, Config{}, ad, nil)

	a := primary("r2", 0)
	a.ID = engine.BackupID("r2")
	a.Repeating = true
	a.Interval = 40 * time.Millisecond
	if err := s.Arm(context.Background(), a); err != nil {
		t.Fatalf("Arm error: %v", err)
	}
	for i := 0; i < 2; i++ {
		ev := waitEvent(t, events)
		if ev.AlertID != "backup:r2" || ev.ReminderID() != "r2" {
			t.Fatalf("event %d = %+v", i, ev)
		}
	}
	if p := s.Pending(); len(p) != 1 || !p[0].Repeating || p[0].Interval != a.Interval {
		t.Fatalf("Pending = %+v, want the repeating backup", p)
	}

	if err := s.Cancel(context.Background(), mapset.NewSet(a.ID)); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("Pending after cancel = %+v", s.Pending())
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	bus := eventbus.New()
	sub, unsub := bus.Subscribe(16)
	defer unsub()
	s, events := startService(t, Config{}, ad, bus)

	if err := s.Arm(context.Background(), primary("r3", 50*time.Millisecond)); err != nil {
		t.Fatalf("Arm error: %v", err)
	}
	if err := s.Cancel(context.Background(), engine.AlertIDs("r3")); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}

	var types []string
	for len(sub) > 0 {
		types = append(types, (<-sub).Type)
	}
	if strings.Join(types, ",") != EventArmed+","+EventCancelled {
		t.Fatalf("bus events = %v", types)
	}
}

func TestArmReplacesExistingAlarm(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, events := startService(t, Config{}, ad, nil)
	ctx := context.Background()

	if err := s.Arm(ctx, primary("r4", time.Hour)); err != nil {
		t.Fatalf("Arm error: %v", err)
	}
	if err := s.Arm(ctx, primary("r4", 20*time.Millisecond)); err != nil {
		t.Fatalf("re-Arm error: %v", err)
	}
	if p := s.Pending(); len(p) != 1 {
		t.Fatalf("Pending = %+v, want exactly one alarm", p)
	}
	waitEvent(t, events)
	select {
	case ev := <-events:
		t.Fatalf("replaced alarm fired again: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestArmRejectsInvalidAlert(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeAdapter{}, logx.Nop(), nil)
	defer s.Stop(context.Background())
	bad := []engine.Alert{
		{ID: "", FiresAt: time.Now()},
		{ID: "x"},
		{ID: "x", FiresAt: time.Now(), Repeating: true},
	}
	for _, a := range bad {
		if err := s.Arm(context.Background(), a); err == nil {
			t.Fatalf("Arm(%+v) accepted", a)
		}
	}
}

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failN: 2}
	bus := eventbus.New()
	sub, unsub := bus.Subscribe(32)
	defer unsub()
	cfg := Config{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond, RatePerSec: 100}
	s, events := startService(t, cfg, ad, bus)

	if err := s.Arm(context.Background(), primary("r5", 0)); err != nil {
		t.Fatalf("Arm error: %v", err)
	}
	waitEvent(t, events)
	if _, attempts := ad.snapshot(); attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	for len(sub) > 0 {
		e := <-sub
		if e.Type == EventDelivered {
			if got := e.Data.(AlertEvent).Attempts; got != 3 {
				t.Fatalf("delivered after %d attempts, want 3", got)
			}
			return
		}
	}
	t.Fatal("no delivered event on bus")
}

func TestDeliveryGivesUpWithoutFiredEvent(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failN: 10}
	cfg := Config{RetryMax: 1, RetryBase: time.Millisecond, RetryMaxDelay: time.Millisecond, RatePerSec: 100}
	s, events := startService(t, cfg, ad, nil)

	if err := s.Arm(context.Background(), primary("r6", 0)); err != nil {
		t.Fatalf("Arm error: %v", err)
	}
	select {
	case ev := <-events:
		t.Fatalf("failed delivery reported as %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
	if _, attempts := ad.snapshot(); attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestCallbacksBecomeEvents(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, events := startService(t, Config{}, ad, nil)
	ctx := context.Background()

	data := func(action string) string {
		d, err := tgui.Data(callbackPrefix, "r7", action)
		if err != nil {
			t.Fatalf("Data error: %v", err)
		}
		return d
	}
	msgID := 0
	cb := func(d string) kit.Action {
		msgID++
		return kit.Action{CallbackID: "cb", Message: kit.MessageRef{Chat: kit.ChatTarget{ChatID: 1}, MessageID: msgID}, Data: d}
	}

	s.HandleAction(ctx, cb(data(actionOpen)))
	if ev := waitEvent(t, events); ev.Kind != relay.KindActivated || ev.ReminderID() != "r7" {
		t.Fatalf("open = %+v", ev)
	}
	s.HandleAction(ctx, cb(data(relay.SnoozeAction(15))))
	if ev := waitEvent(t, events); ev.Kind != relay.KindActionChosen || ev.Action != "snooze:15" {
		t.Fatalf("snooze = %+v", ev)
	}
	s.HandleAction(ctx, cb(data(relay.ActionDefault)))
	if ev := waitEvent(t, events); ev.Kind != relay.KindActionChosen || ev.Action != relay.ActionDefault {
		t.Fatalf("default = %+v", ev)
	}

	// Presses on other keyboards produce nothing.
	s.HandleAction(ctx, cb("other|r7|open"))
	s.HandleAction(ctx, kit.Action{Data: "rmd|backup:r7|default"})
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	ad.mu.Lock()
	defer ad.mu.Unlock()
	want := []string{"OK", "Snoozed 15m", "OK", ""}
	if strings.Join(ad.answers, ",") != strings.Join(want, ",") {
		t.Fatalf("answers = %q, want %q", ad.answers, want)
	}
	// Only the settling presses (snooze, got it) strip the keyboard.
	if len(ad.cleared) != 2 || ad.cleared[0] != 2 || ad.cleared[1] != 3 {
		t.Fatalf("cleared keyboards = %v, want [2 3]", ad.cleared)
	}
}

func TestSurfaceSendsDetailsWithoutFiredEvent(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, events := startService(t, Config{}, ad, nil)

	next := time.Now().Add(2 * time.Hour)
	s.Surface(context.Background(), reminder.Reminder{ID: "r8", Title: "Standup", Rule: reminder.RuleDaily, NextTriggerTime: &next})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if msgs, _ := ad.snapshot(); len(msgs) == 1 {
			if !strings.Contains(msgs[0].text, "Standup") || !strings.Contains(msgs[0].text, "daily") {
				t.Fatalf("details text = %q", msgs[0].text)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("details never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case ev := <-events:
		t.Fatalf("surface reported %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// gatedAdapter holds every send until gate is closed.
type gatedAdapter struct {
	fakeAdapter
	gate chan struct{}
}

func (g *gatedAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return kit.MessageRef{}, ctx.Err()
	}
	return g.fakeAdapter.SendText(ctx, to, text, opt)
}

func TestStopDrainsQueueAfterParentCancel(t *testing.T) {
	t.Parallel()
	ad := &gatedAdapter{gate: make(chan struct{})}
	s := New(Config{Workers: 1, Timezone: "UTC"}, ad, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx, nil, nil)

	for _, id := range []string{"r1", "r2", "r3"} {
		s.Surface(ctx, reminder.Reminder{ID: id, Title: "Standup " + id, Rule: reminder.RuleNone})
	}
	// Shutdown may cancel the parent context before Stop runs.
	cancel()
	close(ad.gate)

	stopCtx, stop := context.WithTimeout(context.Background(), 3*time.Second)
	defer stop()
	s.Stop(stopCtx)

	if msgs, _ := ad.snapshot(); len(msgs) != 3 {
		t.Fatalf("sent %d of 3 queued messages", len(msgs))
	}
}

func TestSnoozeLabel(t *testing.T) {
	t.Parallel()
	want := map[int]string{5: "5m", 90: "90m", 60: "1h", 240: "4h", 1440: "1d"}
	for m, w := range want {
		if got := snoozeLabel(m); got != w {
			t.Fatalf("snoozeLabel(%d) = %q, want %q", m, got, w)
		}
	}
}

func TestBackoffDelayStaysInWindow(t *testing.T) {
	t.Parallel()
	bo := backoff{base: 100 * time.Millisecond, limit: time.Second}
	tests := []struct {
		retry    int
		min, max time.Duration
	}{
		{retry: 0, min: 70 * time.Millisecond, max: 130 * time.Millisecond},
		{retry: 2, min: 280 * time.Millisecond, max: 520 * time.Millisecond},
		{retry: 10, min: 700 * time.Millisecond, max: time.Second},
		{retry: 64, min: 700 * time.Millisecond, max: time.Second},
	}
	for _, tt := range tests {
		for range 20 {
			if d := bo.delay(tt.retry); d < tt.min || d > tt.max {
				t.Fatalf("delay(%d) = %v, want within [%v, %v]", tt.retry, d, tt.min, tt.max)
			}
		}
	}
}
