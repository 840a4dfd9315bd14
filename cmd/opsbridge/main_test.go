package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opsbridge/opsbridge/internal/config"
	"github.com/opsbridge/opsbridge/internal/repl"
	"github.com/opsbridge/opsbridge/internal/toolkit"
	"github.com/opsbridge/opsbridge/internal/transcript"
	"github.com/opsbridge/opsbridge/pkg/protocol"
)

func TestNewLogger(t *testing.T) {
	var out bytes.Buffer
	logger, buf, err := newLogger(config.LogConfig{Level: "warn", Format: "json", BufferSize: 10}, &out)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("hidden from output")
	logger.Warn("shown", "component", "dispatch")

	if strings.Contains(out.String(), "hidden from output") || !strings.Contains(out.String(), `"msg":"shown"`) {
		t.Errorf("unexpected output %q", out.String())
	}
	if buf.Len() != 2 {
		t.Errorf("expected both records buffered, got %d", buf.Len())
	}

	_, buf, err = newLogger(config.LogConfig{Level: "info", Format: "text"}, &out)
	if err != nil || buf != nil {
		t.Errorf("expected no buffer when buffer_size is 0, got %v, %v", buf, err)
	}

	if _, _, err := newLogger(config.LogConfig{Level: "info", Format: "xml"}, &out); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestOpenTranscript(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	tr, err := openTranscript(nil, "", logger)
	if err != nil || tr.Len() != 0 {
		t.Fatalf("expected fresh transcript, got %v", err)
	}
	if _, err := openTranscript(nil, "abc", logger); err == nil {
		t.Error("expected error resuming without a store")
	}

	store, err := transcript.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	first := transcript.New(store, logger)
	first.Append(protocol.UserMessage("list pods"))

	resumed, err := openTranscript(store, first.ID(), logger)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.ID() != first.ID() || resumed.Len() != 1 {
		t.Errorf("unexpected resumed transcript %s with %d messages", resumed.ID(), resumed.Len())
	}
}

func TestRun_MissingTarget(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, strings.NewReader(""), &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage:") {
		t.Errorf("expected usage on stderr, got %q", stderr.String())
	}
}

func TestRun_UnsupportedServerType(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"server.rb"}, strings.NewReader("list pods\nquit\n"), &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), `unsupported server type "server.rb"`) {
		t.Errorf("expected unsupported server type error, got %q", stderr.String())
	}
	if strings.Contains(stdout.String(), repl.Prompt) {
		t.Errorf("interactive loop must not start, got %q", stdout.String())
	}
}

type echoTool struct{}

func (echoTool) Name() string               { return "echo" }
func (echoTool) Description() string        { return "Echo the input" }
func (echoTool) Parameters() map[string]any { return nil }
func (echoTool) Execute(context.Context, map[string]any) (string, error) {
	return "echo", nil
}

func TestRun_ConnectsAndQuits(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := toolkit.NewServer("opsbridge-tools", "test", logger, echoTool{})
	ts := httptest.NewServer(srv.HTTPHandler())
	defer ts.Close()

	var stdout, stderr bytes.Buffer
	code := run([]string{ts.URL}, strings.NewReader("/tools\nquit\n"), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr %q)", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "Tools: echo") || !strings.Contains(out, "Echo the input") {
		t.Errorf("expected banner and /tools listing, got %q", out)
	}
	if strings.Count(out, repl.Prompt) != 2 {
		t.Errorf("expected two prompts, got %q", out)
	}
}

type failingLister struct{ calls int }

func (f *failingLister) Discover(context.Context) ([]protocol.ToolDescriptor, error) {
	f.calls++
	return nil, errors.New("tools/list: connection reset")
}

type listedTools []string

func (l listedTools) Discover(context.Context) ([]protocol.ToolDescriptor, error) {
	var descs []protocol.ToolDescriptor
	for _, n := range l {
		descs = append(descs, protocol.ToolDescriptor{Name: n})
	}
	return descs, nil
}

func TestInitialTools(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	lister := &failingLister{}
	if names := initialTools(context.Background(), lister, logger); len(names) != 0 {
		t.Errorf("expected no names after a failed discovery, got %v", names)
	}
	if lister.calls != 1 || !strings.Contains(logs.String(), "level=WARN") || !strings.Contains(logs.String(), "connection reset") {
		t.Errorf("expected a logged warning, got %q", logs.String())
	}

	names := initialTools(context.Background(), listedTools{"get_pods", "get_gcp_forecast"}, logger)
	if strings.Join(names, ",") != "get_pods,get_gcp_forecast" {
		t.Errorf("unexpected names %v", names)
	}
}
