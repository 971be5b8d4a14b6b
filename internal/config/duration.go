package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// ParseDurationField parses a config duration. Besides Go duration strings it
// accepts a whole number of days ("2d"), which is how long backup intervals
// tend to be written. Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var (
		d   time.Duration
		err error
	)
	if n, ok := strings.CutSuffix(s, "d"); ok {
		var days int64
		days, err = strconv.ParseInt(n, 10, 32)
		d = time.Duration(days) * day
	} else {
		d, err = time.ParseDuration(s)
	}
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", path, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	switch d, err := ParseDurationField(path, raw); {
	case err != nil:
		return 0, err
	case d == 0:
		return def, nil
	default:
		return d, nil
	}
}
