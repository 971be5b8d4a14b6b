package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

const snapshotVersion = 1

// fileStore keeps the whole set in one JSON document.
//
// Saves write <path>.tmp and rename it over <path>, so a crash leaves
// either the old or the new snapshot.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	closed bool
}

type snapshot struct {
	Version   int                 `json:"version"`
	SavedAt   time.Time           `json:"saved_at"`
	Reminders []reminder.Reminder `json:"reminders"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fileStore) LoadAll(ctx context.Context) ([]reminder.Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisabled
	}

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []reminder.Reminder{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return []reminder.Reminder{}, nil
	}

	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		s.log.Warn("reminder snapshot unreadable; starting empty", logx.String("path", s.path), logx.Err(err))
		return []reminder.Reminder{}, nil
	}
	if snap.Version > snapshotVersion {
		s.log.Warn("reminder snapshot from a newer version; starting empty",
			logx.String("path", s.path), logx.Int("version", snap.Version))
		return []reminder.Reminder{}, nil
	}
	if snap.Reminders == nil {
		snap.Reminders = []reminder.Reminder{}
	}
	return snap.Reminders, nil
}

func (s *fileStore) SaveAll(ctx context.Context, items []reminder.Reminder) error {
	_ = ctx
	if items == nil {
		items = []reminder.Reminder{}
	}
	b, err := json.MarshalIndent(snapshot{Version: snapshotVersion, SavedAt: time.Now().UTC(), Reminders: items}, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
