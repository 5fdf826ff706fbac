package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelInfo))

	log.Info("auction created", "id", "abc", "threshold", 2)

	line := buf.String()
	if !strings.Contains(line, "[INF] auction created") {
		t.Errorf("missing level/message: %q", line)
	}

	if !strings.Contains(line, " id=abc") || !strings.Contains(line, " threshold=2") {
		t.Errorf("missing attributes: %q", line)
	}

	if !strings.HasSuffix(line, "\n") {
		t.Error("line should end with newline")
	}
}

func TestHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelWarn))

	log.Info("hidden")
	log.Debug("hidden too")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("records below level should be dropped: %q", out)
	}

	if !strings.Contains(out, "[WRN] shown") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelDebug)).With("component", "house").WithGroup("bid")

	log.Debug("revealed", "amount", 25)

	out := buf.String()
	if !strings.Contains(out, " component=house") {
		t.Errorf("bound attribute missing: %q", out)
	}

	if !strings.Contains(out, " bid.amount=25") {
		t.Errorf("grouped attribute missing: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}

	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
