package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestConsoleHandlerFormatsComponentAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, levelVar))

	logger = NewComponentLogger(logger, "dispatch")
	logger.Info("command sent", String(FieldVerb, "seek"), Float64("position", 42.5))

	line := buf.String()
	if !strings.Contains(line, "INFO dispatch: command sent") {
		t.Fatalf("unexpected console line: %q", line)
	}
	if !strings.Contains(line, "verb=seek") || !strings.Contains(line, "position=42.5") {
		t.Fatalf("missing attrs in console line: %q", line)
	}
}

func TestConsoleHandlerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelWarn)
	logger := slog.New(newConsoleHandler(&buf, levelVar))

	logger.Info("should be dropped")
	logger.Warn("should appear")

	if strings.Contains(buf.String(), "should be dropped") {
		t.Fatalf("info line leaked past warn level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	logger.Error("nothing happens", Error(nil))
}
