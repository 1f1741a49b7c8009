package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestRedactSecrets(t *testing.T) {
	cases := []struct {
		in      string
		leak    string
		changed bool
	}{
		{`Post "https://api.telegram.org/bot123456:AAH-secret_x/sendMessage": EOF`, "AAH-secret_x", true},
		{"Authorization: Bearer abc.def-ghi", "abc.def-ghi", true},
		{"key sk-0123456789abcdef rejected", "sk-0123456789abcdef", true},
		{"DEEPSEEK_API_KEY=supersecret", "supersecret", true},
		{"plain text", "", false},
	}
	for _, c := range cases {
		out, changed := RedactSecrets(c.in)
		if changed != c.changed {
			t.Fatalf("in=%q changed=%v want %v (out=%q)", c.in, changed, c.changed, out)
		}
		if c.leak != "" && strings.Contains(out, c.leak) {
			t.Fatalf("secret leaked: %q", out)
		}
	}
}

func TestScrub_KeepsTelegramPath(t *testing.T) {
	out := Scrub("https://api.telegram.org/bot42:tok/getUpdates")
	if out != "https://api.telegram.org/bot***REDACTED***/getUpdates" {
		t.Fatalf("unexpected scrub: %q", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("привет", 3); got != "при" {
		t.Fatalf("unexpected truncate: %q", got)
	}
	if got := Truncate("ok", 10); got != "ok" {
		t.Fatalf("unexpected truncate: %q", got)
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "relay")
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "k=v") {
		t.Fatalf("expected warn line with fields: %q", out)
	}
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "loud", "")
	logger.Debug("nope")
	logger.Info("yes")
	if strings.Contains(buf.String(), "nope") || !strings.Contains(buf.String(), "yes") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}
