package router

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/config"
)

const (
	clockLayout = "15:04"
	dateLayout  = "2006-01-02"
)

// parseWhen reads an instant from the start of args and reports how many
// tokens it used. Accepted forms, read in loc:
//
//	+45m | +2h | +3d          relative to now
//	09:30                     next 09:30 (today or tomorrow)
//	today 09:30 | tomorrow 09:30
//	2026-10-20 18:00 | 2026-10-20T18:00 | RFC 3339
func parseWhen(args []string, now time.Time, loc *time.Location) (time.Time, int, error) {
	if len(args) == 0 {
		return time.Time{}, 0, errors.New("missing time")
	}
	first := strings.ToLower(args[0])
	now = now.In(loc)

	if rel, ok := strings.CutPrefix(first, "+"); ok {
		d, err := config.ParseDurationField("time", rel)
		if err != nil || d <= 0 {
			return time.Time{}, 0, fmt.Errorf("bad relative time %q", args[0])
		}
		return now.Add(d).Truncate(time.Second), 1, nil
	}

	if first == "today" || first == "tomorrow" {
		if len(args) < 2 {
			return time.Time{}, 0, fmt.Errorf("%s needs a time, e.g. %s 09:30", first, first)
		}
		hm, err := time.Parse(clockLayout, args[1])
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("bad clock time %q", args[1])
		}
		day := now
		if first == "tomorrow" {
			day = now.AddDate(0, 0, 1)
		}
		return onDay(day, hm, loc), 2, nil
	}

	if hm, err := time.Parse(clockLayout, first); err == nil {
		t := onDay(now, hm, loc)
		if !t.After(now) {
			t = onDay(now.AddDate(0, 0, 1), hm, loc)
		}
		return t, 1, nil
	}

	if d, err := time.ParseInLocation(dateLayout, args[0], loc); err == nil {
		if len(args) < 2 {
			return time.Time{}, 0, fmt.Errorf("%s needs a time, e.g. %s 09:30", args[0], args[0])
		}
		hm, err := time.Parse(clockLayout, args[1])
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("bad clock time %q", args[1])
		}
		return onDay(d, hm, loc), 2, nil
	}

	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, args[0], loc); err == nil {
			return t, 1, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, args[0]); err == nil {
		return t, 1, nil
	}
	return time.Time{}, 0, fmt.Errorf("unrecognized time %q", args[0])
}

func onDay(day, hm time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, hm.Hour(), hm.Minute(), 0, 0, loc)
}
