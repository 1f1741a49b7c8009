// Package logging builds the process logger and scrubs secrets from text
// before it is logged.
package logging

import (
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// New returns a leveled key/value logger writing to w. Unknown levels fall
// back to info.
func New(w io.Writer, level, prefix string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          prefix,
	})
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// Discard is a logger that drops everything; handy in tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._\-=/+]+`),
	regexp.MustCompile(`(?i)\b(sk-[A-Za-z0-9\-_]{8,})\b`),
	regexp.MustCompile(`/bot[0-9]+:[A-Za-z0-9_\-]+`),
	regexp.MustCompile(`(?i)\b([A-Za-z0-9_]*(TOKEN|SECRET|PASSWORD|API_KEY))\b\s*[:=]\s*["']?([^\s"']+)`),
}

// RedactSecrets masks bearer tokens, API keys and Telegram bot tokens in
// text. The bool reports whether anything was replaced.
func RedactSecrets(text string) (string, bool) {
	out := text
	redacted := false
	for _, p := range secretPatterns {
		out = p.ReplaceAllStringFunc(out, func(m string) string {
			redacted = true
			switch {
			case strings.HasPrefix(m, "/bot"):
				return "/bot***REDACTED***"
			case strings.Contains(m, "="):
				parts := strings.SplitN(m, "=", 2)
				return parts[0] + "=***REDACTED***"
			case strings.Contains(m, ":"):
				kv := strings.SplitN(m, ":", 2)
				return kv[0] + ": ***REDACTED***"
			default:
				return "***REDACTED***"
			}
		})
	}
	return out, redacted
}

// Scrub is RedactSecrets without the flag.
func Scrub(text string) string {
	out, _ := RedactSecrets(text)
	return out
}

// Truncate cuts s to maxChars runes.
func Truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
