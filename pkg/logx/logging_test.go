package logx

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSender struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeSender) SendLogLine(text string) {
	f.mu.Lock()
	f.lines = append(f.lines, text)
	f.mu.Unlock()
}

func (f *fakeSender) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.lines))
	copy(out, f.lines)
	return out
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"TRACE", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"WARNING", zerolog.WarnLevel},
		{"warn", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("short", 100); got != "short" {
		t.Errorf("no-op truncate: %q", got)
	}
	long := strings.Repeat("x", 50)
	got := truncate(long, 20)
	if len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncated = %q (len %d)", got, len(got))
	}
	if got := truncate(long, 0); got != long {
		t.Errorf("zero max should disable truncation")
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()

	line := `{"level":"warn","message":"job failed","username":"alice","time":"2024-03-04T08:15:00Z"}`
	got := formatTelegramJSON([]byte(line))
	if !strings.HasPrefix(got, "[WARN] job failed") {
		t.Errorf("prefix: %q", got)
	}
	if !strings.Contains(got, "username=alice") {
		t.Errorf("missing field: %q", got)
	}
	if strings.Contains(got, "time=") {
		t.Errorf("time should be stripped: %q", got)
	}

	// Non-JSON falls back to the raw line.
	if got := formatTelegramJSON([]byte("plain text\n")); got != "plain text" {
		t.Errorf("fallback = %q", got)
	}
}

func TestTelegramSinkLevelFilter(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	svc, log := New(Config{
		Level: "DEBUG",
		Telegram: TelegramConfig{
			Enabled:    true,
			MinLevel:   "WARN",
			RatePerSec: 100,
		},
	}, sender)
	defer svc.Close()

	log.Debug("quiet")
	log.Info("still quiet")
	log.Warn("loud", String("username", "alice"))

	deadline := time.Now().Add(time.Second)
	for len(sender.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	lines := sender.all()
	if len(lines) != 1 {
		t.Fatalf("sender got %d lines, want 1: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "loud") || !strings.Contains(lines[0], "alice") {
		t.Errorf("line = %q", lines[0])
	}
}

func TestNopAndZeroLoggers(t *testing.T) {
	t.Parallel()

	var zero Logger
	if !zero.IsZero() {
		t.Error("zero value should report IsZero")
	}
	// Logging on the zero value must not panic.
	zero.Info("ignored")
	Nop().Error("ignored", Err(nil))

	derived := Nop().With(String("comp", "test"))
	derived.Warn("ignored too")
}

func TestApplySwapsLevel(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	svc, log := New(Config{
		Level:    "ERROR",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "WARN", RatePerSec: 100},
	}, sender)
	defer svc.Close()

	// WARN is below the root level, so the sink never sees it.
	log.Warn("suppressed")
	if len(sender.all()) != 0 {
		t.Fatalf("suppressed line delivered: %v", sender.all())
	}

	svc.Apply(Config{
		Level:    "DEBUG",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "WARN", RatePerSec: 100},
	})
	log.Warn("visible now")
	deadline := time.Now().Add(time.Second)
	for len(sender.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(sender.all()) != 1 {
		t.Fatalf("after Apply: %v", sender.all())
	}
}
