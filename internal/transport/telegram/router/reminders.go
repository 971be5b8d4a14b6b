package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"remindbot/internal/config"
	"remindbot/internal/engine"
	"remindbot/internal/registry"
	"remindbot/internal/reminder"
	"remindbot/pkg/tgui"
)

// Reminders is the part of the registry the commands drive.
type Reminders interface {
	Add(ctx context.Context, in reminder.Reminder) (reminder.Reminder, error)
	Update(ctx context.Context, in reminder.Reminder) (reminder.Reminder, error)
	Snooze(ctx context.Context, id string, minutes int) (reminder.Reminder, error)
	Delete(ctx context.Context, id string) error
	List() []reminder.Reminder
}

// ReminderCommands builds the reminder command set.
type ReminderCommands struct {
	Reminders Reminders
	// Details renders one reminder; Location is the zone times are read in.
	Details  func(r reminder.Reminder) tgui.Message
	Location func() *time.Location
	Now      func() time.Time
}

const (
	shortID    = 8
	minPrefix  = 4
	titleLimit = 200
	listTime   = "Mon 02 Jan 15:04"
)

var (
	errNoMatch   = errors.New("no reminder with that id")
	errAmbiguous = errors.New("id prefix matches more than one reminder")
)

func (rc ReminderCommands) Commands() []Command {
	return []Command{
		{
			Name:        "remind",
			Aliases:     []string{"add", "new"},
			Usage:       "/remind <time> <title> [--repeat daily] [--sound chime] [--event <time>]",
			Description: "create a reminder",
			Access:      AccessOwnerOnly,
			Handle:      rc.add,
		},
		{
			Name:        "list",
			Aliases:     []string{"ls"},
			Usage:       "/list",
			Description: "list reminders",
			Handle:      rc.list,
		},
		{
			Name:        "show",
			Usage:       "/show <id>",
			Description: "show one reminder",
			Handle:      rc.show,
		},
		{
			Name:        "edit",
			Usage:       "/edit <id> [--at <time>] [--title <text>] [--repeat <rule>] [--sound <sound>] [--event <time>|none]",
			Description: "change a reminder",
			Access:      AccessOwnerOnly,
			Handle:      rc.edit,
		},
		{
			Name:        "snooze",
			Usage:       "/snooze <id> <minutes|15m|2h|1d>",
			Description: "postpone the next alert",
			Access:      AccessOwnerOnly,
			Handle:      rc.snooze,
		},
		{
			Name:        "delete",
			Aliases:     []string{"rm", "del"},
			Usage:       "/delete <id>",
			Description: "delete a reminder",
			Access:      AccessOwnerOnly,
			Handle:      rc.delete,
		},
	}
}

func (rc ReminderCommands) now() time.Time {
	if rc.Now != nil {
		return rc.Now()
	}
	return time.Now()
}

func (rc ReminderCommands) loc() *time.Location {
	if rc.Location != nil {
		if l := rc.Location(); l != nil {
			return l
		}
	}
	return time.Local
}

// readTime parses a whole flag value or argument list as one instant.
func (rc ReminderCommands) readTime(args []string) (time.Time, error) {
	t, n, err := parseWhen(args, rc.now(), rc.loc())
	if err != nil {
		return time.Time{}, err
	}
	if n != len(args) {
		return time.Time{}, fmt.Errorf("unexpected %q after time", strings.Join(args[n:], " "))
	}
	return t, nil
}

func (rc ReminderCommands) add(ctx context.Context, req *Request) error {
	at, n, err := parseWhen(req.Args, rc.now(), rc.loc())
	if err != nil {
		return fmt.Errorf("%w\nusage: /remind <time> <title>", err)
	}
	title := strings.TrimSpace(strings.Join(req.Args[n:], " "))
	if title == "" {
		return errors.New("title is missing\nusage: /remind <time> <title>")
	}
	in := reminder.Reminder{Title: tgui.TruncRunes(title, titleLimit), ReminderTime: at}
	if err := rc.applyFlags(req, &in); err != nil {
		return err
	}
	if (in.Rule == "" || in.Rule == reminder.RuleNone) && !at.After(rc.now()) {
		return fmt.Errorf("%s is in the past", at.In(rc.loc()).Format(listTime))
	}

	r, err := rc.Reminders.Add(ctx, in)
	if r.ID == "" {
		return err
	}
	return rc.confirm(ctx, req, "Created "+short(r.ID), r, err)
}

// applyFlags copies --title, --repeat, --sound and --event onto r.
func (rc ReminderCommands) applyFlags(req *Request, r *reminder.Reminder) error {
	if v, ok := req.Flag("title", "t"); ok {
		if v = strings.TrimSpace(v); v == "" {
			return errors.New("title cannot be empty")
		}
		r.Title = tgui.TruncRunes(v, titleLimit)
	}
	if v, ok := req.Flag("repeat", "r"); ok {
		rule, err := reminder.ParseRule(v)
		if err != nil {
			return err
		}
		r.Rule = rule
	}
	if v, ok := req.Flag("sound", "s"); ok {
		sound, err := reminder.ParseSound(v)
		if err != nil {
			return err
		}
		r.Sound = sound
	}
	if v, ok := req.Flag("event", "e"); ok {
		if strings.EqualFold(strings.TrimSpace(v), "none") {
			r.EventTime = time.Time{}
		} else {
			t, err := rc.readTime(strings.Fields(v))
			if err != nil {
				return fmt.Errorf("event: %w", err)
			}
			r.EventTime = t
		}
	}
	return nil
}

func (rc ReminderCommands) list(ctx context.Context, req *Request) error {
	items := rc.Reminders.List()
	if len(items) == 0 {
		return req.Reply(ctx, "No reminders. Create one with /remind")
	}
	now, loc := rc.now(), rc.loc()
	b := tgui.New().Title("📋", fmt.Sprintf("Reminders (%d)", len(items)))
	for _, r := range items {
		next := "not armed"
		switch {
		case r.Snoozed(now):
			next = "snoozed until " + r.SnoozeUntil.In(loc).Format(listTime)
		case r.NextTriggerTime != nil:
			next = r.NextTriggerTime.In(loc).Format(listTime) + ", " + humanize.RelTime(*r.NextTriggerTime, now, "ago", "from now")
		}
		line := fmt.Sprintf("%s · %s · %s", short(r.ID), next, r.Rule)
		b.KV(tgui.TruncRunes(r.Title, 60), line)
	}
	return req.ReplyMsg(ctx, b.Silent(true).Build())
}

func (rc ReminderCommands) show(ctx context.Context, req *Request) error {
	r, err := rc.find(req.Args)
	if err != nil {
		return err
	}
	return req.ReplyMsg(ctx, rc.Details(r))
}

func (rc ReminderCommands) edit(ctx context.Context, req *Request) error {
	r, err := rc.find(req.Args)
	if err != nil {
		return err
	}
	if len(req.Flags) == 0 {
		return errors.New("nothing to change\nusage: /edit <id> --at <time> | --title <text> | --repeat <rule> | --sound <sound> | --event <time>")
	}
	if v, ok := req.Flag("at", "a"); ok {
		t, err := rc.readTime(strings.Fields(v))
		if err != nil {
			return err
		}
		r.ReminderTime = t
	}
	if err := rc.applyFlags(req, &r); err != nil {
		return err
	}

	got, err := rc.Reminders.Update(ctx, r)
	if got.ID == "" {
		return err
	}
	return rc.confirm(ctx, req, "Updated "+short(got.ID), got, err)
}

func (rc ReminderCommands) snooze(ctx context.Context, req *Request) error {
	if len(req.Args) != 2 {
		return errors.New("usage: /snooze <id> <minutes|15m|2h|1d>")
	}
	r, err := rc.find(req.Args[:1])
	if err != nil {
		return err
	}
	minutes, err := parseMinutes(req.Args[1])
	if err != nil {
		return err
	}
	got, err := rc.Reminders.Snooze(ctx, r.ID, minutes)
	if got.ID == "" {
		return err
	}
	return rc.confirm(ctx, req, "Snoozed "+short(got.ID), got, err)
}

func (rc ReminderCommands) delete(ctx context.Context, req *Request) error {
	r, err := rc.find(req.Args)
	if err != nil {
		return err
	}
	if err := rc.Reminders.Delete(ctx, r.ID); err != nil && !partial(err) {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Deleted %s (%s)", short(r.ID), r.Title))
}

// confirm replies with the reminder's details. A mutation that was applied
// but not fully persisted or armed is still confirmed, with a warning.
func (rc ReminderCommands) confirm(ctx context.Context, req *Request, head string, r reminder.Reminder, err error) error {
	if err != nil && !partial(err) {
		return err
	}
	if err := req.Reply(ctx, head); err != nil {
		return err
	}
	if err != nil {
		_ = req.Reply(ctx, "⚠️ saved in memory, but: "+err.Error())
	}
	return req.ReplyMsg(ctx, rc.Details(r))
}

// partial reports errors that leave the in-memory change in place.
func partial(err error) bool {
	return errors.Is(err, registry.ErrStore) || errors.Is(err, engine.ErrNotifier)
}

// find resolves the first argument as a full id or a unique id prefix.
func (rc ReminderCommands) find(args []string) (reminder.Reminder, error) {
	if len(args) == 0 {
		return reminder.Reminder{}, errors.New("missing reminder id (see /list)")
	}
	key := strings.TrimSpace(args[0])
	var match []reminder.Reminder
	for _, r := range rc.Reminders.List() {
		if r.ID == key {
			return r, nil
		}
		if len(key) >= minPrefix && strings.HasPrefix(r.ID, key) {
			match = append(match, r)
		}
	}
	switch len(match) {
	case 0:
		return reminder.Reminder{}, fmt.Errorf("%w: %s", errNoMatch, key)
	case 1:
		return match[0], nil
	default:
		return reminder.Reminder{}, fmt.Errorf("%w: %s", errAmbiguous, key)
	}
}

// parseMinutes accepts a bare number of minutes or a duration.
func parseMinutes(raw string) (int, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("snooze must be positive, got %d", n)
		}
		return n, nil
	}
	d, err := config.ParseDurationField("snooze", raw)
	if err != nil {
		return 0, err
	}
	if d < time.Minute || d%time.Minute != 0 {
		return 0, fmt.Errorf("snooze must be whole minutes, got %s", raw)
	}
	return int(d / time.Minute), nil
}

func short(id string) string {
	if len(id) <= shortID {
		return id
	}
	return id[:shortID]
}
