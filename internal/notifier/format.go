package notifier

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tele "gopkg.in/telebot.v4"

	"remindbot/internal/engine"
	"remindbot/internal/relay"
	"remindbot/internal/reminder"
	"remindbot/pkg/tgui"
)

const (
	callbackPrefix = "rmd"
	// actionOpen is the callback action of the details button.
	actionOpen = "open"

	titleLimit = 200
	timeLayout = "Mon, 02 Jan 2006 15:04 MST"
)

func snoozeLabel(m int) string {
	switch {
	case m%1440 == 0:
		return fmt.Sprintf("%dd", m/1440)
	case m%60 == 0:
		return fmt.Sprintf("%dh", m/60)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

// alertKeyboard builds the details/dismiss row and the snooze grid.
func alertKeyboard(reminderID string) (*tgui.Inline, error) {
	btn := func(text, action string) (tele.Btn, error) {
		data, err := tgui.Data(callbackPrefix, reminderID, action)
		if err != nil {
			return tele.Btn{}, err
		}
		return tgui.Btn(text, data), nil
	}

	open, err := btn("🔎 Details", actionOpen)
	if err != nil {
		return nil, err
	}
	dismiss, err := btn("✅ Got it", relay.ActionDefault)
	if err != nil {
		return nil, err
	}
	snoozes := make([]tele.Btn, 0, len(relay.SnoozeMinutes))
	for _, m := range relay.SnoozeMinutes {
		b, err := btn("💤 "+snoozeLabel(m), relay.SnoozeAction(m))
		if err != nil {
			return nil, err
		}
		snoozes = append(snoozes, b)
	}
	return tgui.NewInline().Row(open, dismiss).Grid(4, snoozes...), nil
}

func renderAlert(a engine.Alert, backup bool, now time.Time, loc *time.Location) (tgui.Message, error) {
	p := a.Payload
	title := tgui.TruncRunes(strings.TrimSpace(p.Title), titleLimit)
	if title == "" {
		title = "Reminder"
	}
	emoji := "⏰"
	if backup {
		emoji = "🔁"
	}

	b := tgui.New().Title(emoji, title)
	if !p.EventTime.IsZero() {
		b.KV("Event", fmt.Sprintf("%s (%s)", p.EventTime.In(loc).Format(timeLayout), humanize.RelTime(p.EventTime, now, "ago", "from now")))
	}
	if backup {
		b.Line("Repeating until you respond.")
	}
	b.Silent(p.Sound == reminder.SoundSilent)
	if p.Sound != "" && p.Sound != reminder.SoundDefault && p.Sound != reminder.SoundSilent {
		b.KV("Sound", string(p.Sound))
	}

	var errs []error
	if kb, err := alertKeyboard(p.ReminderID); err != nil {
		errs = append(errs, fmt.Errorf("keyboard: %w", err))
	} else {
		b.Inline(kb)
	}
	return b.Build(), errors.Join(errs...)
}

func renderDetails(r reminder.Reminder, now time.Time, loc *time.Location) tgui.Message {
	title := tgui.TruncRunes(strings.TrimSpace(r.Title), titleLimit)
	if title == "" {
		title = "Reminder"
	}
	at := func(t time.Time) string {
		return fmt.Sprintf("%s (%s)", t.In(loc).Format(timeLayout), humanize.RelTime(t, now, "ago", "from now"))
	}

	b := tgui.New().Title("📌", title)
	if !r.EventTime.IsZero() {
		b.KV("Event", at(r.EventTime))
	}
	b.KV("Repeats", string(r.Rule))
	switch {
	case r.Snoozed(now):
		b.KV("Snoozed until", at(*r.SnoozeUntil))
	case r.NextTriggerTime != nil:
		b.KV("Next", at(*r.NextTriggerTime))
	default:
		b.KV("Next", "none")
	}
	return b.Silent(true).Build()
}
