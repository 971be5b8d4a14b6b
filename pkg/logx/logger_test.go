package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").Component("engine").With(String("reminder", "r1"))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	log.Info("scheduled", TimePtr("next", &at), TimePtr("snooze", nil), Err(errors.New("boom")), Err(nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	want := map[string]any{"level": "info", "message": "scheduled", "comp": "engine", "reminder": "r1", "err": "boom"}
	for k, v := range want {
		if entry[k] != v {
			t.Fatalf("%s = %v, want %v (entry %v)", k, entry[k], v, entry)
		}
	}
	if v, ok := entry["snooze"]; !ok || v != nil {
		t.Fatalf("snooze = %v, want explicit null", v)
	}
	if c, _ := entry["caller"].(string); !strings.HasPrefix(c, "logger_test.go:") {
		t.Fatalf("caller = %q", c)
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	if n := strings.Count(buf.String(), "\n"); n != 1 {
		t.Fatalf("wrote %d lines, want 1: %q", n, buf.String())
	}
}

func TestZeroAndNop(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero logger not reported as zero")
	}
	if Nop().IsZero() {
		t.Fatal("Nop logger reported as zero")
	}
	// Neither may panic.
	zero.Info("x")
	Nop().With(String("a", "b")).Error("x")
}

func TestServiceApplySwapsSinks(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	log = log.Component("test")

	log.Info("dropped")
	log.Warn("kept")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("after apply")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") || !strings.Contains(out, "after apply") {
		t.Fatalf("unexpected log file contents:\n%s", out)
	}
}
