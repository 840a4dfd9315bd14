package logbuf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestBufferTail(t *testing.T) {
	buf := New(5)
	now := time.Now()
	for i := 0; i < 3; i++ {
		buf.Write(Entry{Time: now.Add(time.Duration(i) * time.Second), Level: slog.LevelInfo, Message: "msg"})
	}

	if got := buf.Tail(0, slog.LevelDebug); len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if buf.Len() != 3 || buf.Cap() != 5 {
		t.Errorf("unexpected len/cap %d/%d", buf.Len(), buf.Cap())
	}
}

func TestBufferRingOverwrite(t *testing.T) {
	buf := New(3)
	for i := 0; i < 5; i++ {
		buf.Write(Entry{Level: slog.LevelInfo, Message: "msg", Attrs: map[string]any{"i": i}})
	}

	entries := buf.Tail(0, slog.LevelDebug)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (ring size), got %d", len(entries))
	}
	// Oldest first: 2, 3, 4.
	if entries[0].Attrs["i"] != 2 || entries[2].Attrs["i"] != 4 {
		t.Fatalf("unexpected order: %v, %v", entries[0].Attrs, entries[2].Attrs)
	}
}

func TestBufferTailLevelAndLimit(t *testing.T) {
	buf := New(10)
	buf.Write(Entry{Level: slog.LevelDebug, Message: "debug"})
	buf.Write(Entry{Level: slog.LevelInfo, Message: "info"})
	buf.Write(Entry{Level: slog.LevelWarn, Message: "warn"})
	buf.Write(Entry{Level: slog.LevelError, Message: "error"})

	entries := buf.Tail(0, slog.LevelWarn)
	if len(entries) != 2 || entries[0].Message != "warn" || entries[1].Message != "error" {
		t.Fatalf("unexpected entries at WARN+: %v", entries)
	}

	entries = buf.Tail(2, slog.LevelDebug)
	if len(entries) != 2 || entries[1].Message != "error" {
		t.Fatalf("expected the 2 newest entries, got %v", entries)
	}
}

func TestNewMinimumSize(t *testing.T) {
	buf := New(0)
	buf.Write(Entry{Message: "a"})
	buf.Write(Entry{Message: "b"})
	if got := buf.Tail(0, slog.LevelDebug); len(got) != 1 || got[0].Message != "b" {
		t.Fatalf("expected only the newest entry, got %v", got)
	}
}

func TestFormat(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	line := Format(Entry{
		Time:      now.Add(-2 * time.Minute),
		Level:     slog.LevelWarn,
		Component: "dispatch",
		Message:   "tool error: get_pods",
		Attrs:     map[string]any{"error": "timeout", "call_id": "call_1"},
	}, now)

	for _, want := range []string{"WARN", "2 minutes ago", "dispatch: tool error: get_pods", "call_id=call_1 error=timeout"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in %q", want, line)
		}
	}
}

func TestHandlerCaptures(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(io.Discard, nil), buf))

	logger.Info("hello", "key", "value")
	logger.Warn("warning", "error", errors.New("boom"))

	entries := buf.Tail(0, slog.LevelDebug)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "hello" || entries[0].Attrs["key"] != "value" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Level != slog.LevelWarn || entries[1].Attrs["error"] != "boom" {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
}

func TestHandlerComponentAndGroups(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(io.Discard, nil), buf)).With("component", "mcp")

	logger.WithGroup("server").With("pid", 42).Info("started", "target", "main.py")

	e := buf.Tail(0, slog.LevelDebug)[0]
	if e.Component != "mcp" {
		t.Errorf("expected component lifted out, got %+v", e)
	}
	if e.Attrs["server.pid"] != int64(42) || e.Attrs["server.target"] != "main.py" {
		t.Errorf("expected group-prefixed attrs, got %v", e.Attrs)
	}
	if _, ok := e.Attrs["component"]; ok {
		t.Error("component should not be duplicated in attrs")
	}
}

func TestHandlerCapturesBelowInnerLevel(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})
	handler := NewHandler(inner, buf)

	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected DEBUG to be enabled (buffer captures all)")
	}

	logger := slog.New(handler)
	logger.Debug("debug msg")
	logger.Info("info msg")
	logger.Warn("warn msg")

	if n := buf.Len(); n != 3 {
		t.Fatalf("expected 3 entries in buffer, got %d", n)
	}
}
