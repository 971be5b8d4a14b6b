package reminder

import (
	"errors"
	"fmt"
	"time"
)

// ErrCalculation is returned when calendar arithmetic cannot produce a next
// occurrence. Callers leave the reminder unarmed.
var ErrCalculation = errors.New("recurrence calculation failed")

// maxSteps bounds the walk around the fast-forward estimate.
const maxSteps = 512

// NextOccurrence returns the first base + k*unit (k >= 0) strictly after now.
//
// RuleNone returns base unchanged, even when it is not after now.
// Day/week/month/year steps use the calendar of base's location, so wall
// clock time survives DST changes. Month and year steps are counted from
// base and clamp to the last day of a shorter month (Jan 31 -> Feb 28 -> Mar 31).
func NextOccurrence(base time.Time, rule Rule, now time.Time) (time.Time, error) {
	if rule == RuleNone || rule == "" {
		return base, nil
	}
	if !rule.Valid() {
		return time.Time{}, fmt.Errorf("%w: unsupported rule %q", ErrCalculation, rule)
	}
	if base.After(now) {
		return base, nil
	}

	k := estimateSteps(base, rule, now)
	steps := 0
	// Estimate may overshoot (DST, short months): walk back to the first candidate.
	for k > 0 {
		prev, err := occurrence(base, rule, k-1)
		if err != nil {
			return time.Time{}, err
		}
		if !prev.After(now) {
			break
		}
		k--
		if steps++; steps > maxSteps {
			return time.Time{}, fmt.Errorf("%w: %s from %s did not converge", ErrCalculation, rule, base.Format(time.RFC3339))
		}
	}

	var last time.Time
	for {
		next, err := occurrence(base, rule, k)
		if err != nil {
			return time.Time{}, err
		}
		if !last.IsZero() && !next.After(last) {
			return time.Time{}, fmt.Errorf("%w: %s step did not advance past %s", ErrCalculation, rule, last.Format(time.RFC3339))
		}
		if next.After(now) {
			return next, nil
		}
		last = next
		k++
		if steps++; steps > maxSteps {
			return time.Time{}, fmt.Errorf("%w: %s from %s did not converge", ErrCalculation, rule, base.Format(time.RFC3339))
		}
	}
}

// estimateSteps counts whole units from base to now without going through
// time.Duration, which saturates about 292 years out.
func estimateSteps(base time.Time, rule Rule, now time.Time) int64 {
	var k int64
	switch rule {
	case RuleHourly:
		k = (now.Unix() - base.Unix()) / 3600
	case RuleDaily:
		k = civilDays(base, now)
	case RuleWeekly:
		k = civilDays(base, now) / 7
	case RuleMonthly:
		k = civilMonths(base, now)
	case RuleYearly:
		k = civilMonths(base, now) / 12
	}
	return max(k, 0)
}

// civilDays is the number of calendar days between base and now, both read
// in base's location.
func civilDays(base, now time.Time) int64 {
	dayNumber := func(t time.Time) int64 {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
	}
	return dayNumber(now.In(base.Location())) - dayNumber(base)
}

func civilMonths(base, now time.Time) int64 {
	by, bm, _ := base.Date()
	ny, nm, _ := now.In(base.Location()).Date()
	return (int64(ny)*12 + int64(nm)) - (int64(by)*12 + int64(bm))
}

// occurrence returns the k-th occurrence counted from base (k = 0 is base).
func occurrence(base time.Time, rule Rule, k int64) (time.Time, error) {
	switch rule {
	case RuleHourly:
		return addHours(base, k), nil
	case RuleDaily:
		return base.AddDate(0, 0, int(k)), nil
	case RuleWeekly:
		return base.AddDate(0, 0, int(7*k)), nil
	case RuleMonthly:
		return addMonthsClamped(base, k), nil
	case RuleYearly:
		return addMonthsClamped(base, 12*k), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported rule %q", ErrCalculation, rule)
	}
}

// maxHours is the largest hour count a single time.Duration holds.
const maxHours = int64(1<<63-1) / int64(time.Hour)

func addHours(t time.Time, k int64) time.Time {
	for k > maxHours {
		t = t.Add(time.Duration(maxHours) * time.Hour)
		k -= maxHours
	}
	return t.Add(time.Duration(k) * time.Hour)
}

func addMonthsClamped(t time.Time, months int64) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	idx := int64(y)*12 + int64(m-1) + months
	ty := int(idx / 12)
	tm := time.Month(idx%12 + 1)
	if last := daysIn(ty, tm, t.Location()); d > last {
		d = last
	}
	return time.Date(ty, tm, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 12, 0, 0, 0, loc).Day()
}
