package storage

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	logx "remindbot/pkg/logx"
)

type opener func(Config, logx.Logger) (Store, error)

// drivers maps every accepted driver name, aliases included, to its opener.
var drivers = map[string]opener{
	"file":    openFile,
	"json":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Drivers lists the accepted driver names in order.
func Drivers() []string { return slices.Sorted(maps.Keys(drivers)) }

// Open returns the store named by cfg.Driver, or (nil, nil) when the
// driver is empty or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		return nil, nil
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q (want one of %s)", cfg.Driver, strings.Join(Drivers(), ", "))
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log)
}
