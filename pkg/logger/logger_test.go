package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	l, closers, err := New(Config{Level: "debug", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.With(slog.String("component", "capture")).Debug("attempt started", slog.Int("attempt", 2))
	closeAll(closers)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(raw), &entry); err != nil {
		t.Fatalf("log line is not json: %q", raw)
	}
	if entry["msg"] != "attempt started" || entry["component"] != "capture" || entry["attempt"] != float64(2) {
		t.Fatalf("entry = %v", entry)
	}
}

func TestInitRoutesAuditToSeparateFile(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.log")
	if err := Init(Config{Format: "text", OutputPaths: []string{filepath.Join(dir, "app.log")}, Audit: AuditConfig{Enabled: true, Path: auditPath}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Init(Config{}) })

	Named("plugin").Info("regular entry")
	Audit().Info("capture finished", slog.String("outcome", "success"))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	audit, _ := os.ReadFile(auditPath)
	if !strings.Contains(string(audit), `"outcome":"success"`) || strings.Contains(string(audit), "regular entry") {
		t.Fatalf("audit log = %q", audit)
	}
	app, _ := os.ReadFile(filepath.Join(dir, "app.log"))
	if !strings.Contains(string(app), "component=plugin") {
		t.Fatalf("app log = %q", app)
	}
}

func TestAuditRequiresPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error for empty audit path")
	}
}

func TestRotatingFileShiftsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w, err := newRotatingFile(rotationOptions{Path: path, MaxBackups: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w.limit = 10
	defer w.Close()

	for _, line := range []string{"first-entry\n", "second-entry\n", "third-entry\n", "fourth-entry\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	expect := map[string]string{
		path:        "fourth-entry\n",
		path + ".1": "third-entry\n",
		path + ".2": "second-entry\n",
	}
	for file, want := range expect {
		got, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if string(got) != want {
			t.Fatalf("%s = %q, want %q", file, got, want)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("expected no third backup")
	}
}

func TestRotatingFilePrunesOldBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w, err := newRotatingFile(rotationOptions{Path: path, MaxBackups: 3, MaxAgeDays: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w.limit = 5
	w.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	defer w.Close()

	_, _ = w.Write([]byte("aaaaaa\n"))
	_, _ = w.Write([]byte("bbbbbb\n"))
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Fatalf("expected stale backup to be pruned")
	}
}
