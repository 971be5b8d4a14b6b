package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// sqliteDSN builds a modernc DSN. Pragmas go in the DSN so every pooled
// connection gets them, not just the first.
func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if busy > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	}
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The registry is the only writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	st := &sqliteStore{db: db, log: log}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite %s: %w", path, err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadAll(ctx context.Context) ([]reminder.Reminder, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, event_time, reminder_time, sound, rule, next_trigger, snooze_until, created_at, updated_at
		 FROM reminders ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []reminder.Reminder{}
	for rows.Next() {
		var (
			r                              reminder.Reminder
			eventAt, remindAt, created, up string
			sound, rule                    string
			next, snooze                   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Title, &eventAt, &remindAt, &sound, &rule, &next, &snooze, &created, &up); err != nil {
			return nil, err
		}
		r.Sound = reminder.Sound(sound)
		r.Rule = reminder.Rule(rule)

		var perr error
		r.EventTime, perr = parseTime(eventAt, perr)
		r.ReminderTime, perr = parseTime(remindAt, perr)
		r.CreatedAt, perr = parseTime(created, perr)
		r.UpdatedAt, perr = parseTime(up, perr)
		r.NextTriggerTime, perr = parseNullTime(next, perr)
		r.SnoozeUntil, perr = parseNullTime(snooze, perr)
		if perr != nil {
			s.log.Warn("skipping malformed reminder row", logx.String("id", r.ID), logx.Err(perr))
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveAll rewrites the table in one transaction.
func (s *sqliteStore) SaveAll(ctx context.Context, items []reminder.Reminder) (err error) {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM reminders`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reminders(id, position, title, event_time, reminder_time, sound, rule, next_trigger, snooze_until, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range items {
		if _, err = stmt.ExecContext(ctx,
			r.ID, i, r.Title,
			formatTime(r.EventTime), formatTime(r.ReminderTime),
			string(r.Sound), string(r.Rule),
			nullTime(r.NextTriggerTime), nullTime(r.SnoozeUntil),
			formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
		); err != nil {
			return fmt.Errorf("insert %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTime and parseNullTime keep the first error seen.
func parseTime(v string, prev error) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if prev != nil {
		return t, prev
	}
	return t, err
}

func parseNullTime(v sql.NullString, prev error) (*time.Time, error) {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil, prev
	}
	t, err := parseTime(v.String, prev)
	return &t, err
}
