package config

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "remindbot/pkg/logx"
)

// reloadDebounce collapses the burst of events editors emit for one save.
const reloadDebounce = 250 * time.Millisecond

var errWatcherClosed = errors.New("config: watcher closed")

// Watch reloads the config whenever its file changes, until ctx is done.
// The parent directory is watched so atomic replace-on-save is seen. It
// returns an error when the watcher breaks; callers restart it.
func (m *ConfigManager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-debounce.C:
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if filepath.Base(ev.Name) == name && ev.Op&^fsnotify.Chmod != 0 {
				debounce.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				debounce.Reset(reloadDebounce)
				continue
			}
			m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
		}
	}
}
