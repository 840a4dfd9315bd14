// Command opsbridge is an interactive client that answers infrastructure
// questions with a language model and the tools of one MCP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/opsbridge/opsbridge/internal/config"
	"github.com/opsbridge/opsbridge/internal/dispatch"
	"github.com/opsbridge/opsbridge/internal/logbuf"
	"github.com/opsbridge/opsbridge/internal/mcp"
	"github.com/opsbridge/opsbridge/internal/provider"
	"github.com/opsbridge/opsbridge/internal/repl"
	"github.com/opsbridge/opsbridge/internal/tool"
	"github.com/opsbridge/opsbridge/internal/transcript"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("opsbridge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file (YAML, JSON or TOML)")
	verbose := fs.Bool("v", false, "Verbose logging")
	logFormat := fs.String("log-format", "", "Log format: text or json (overrides config)")
	resume := fs.String("resume", "", "Resume a saved session by ID (requires session.db_path)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [flags] <path_to_server_script | server_url>\n\nFlags:\n", fs.Name())
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return 1
	}
	target := fs.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	logger, logBuf, err := newLogger(cfg.Log, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prov, err := provider.New(provider.Config{
		Type:     cfg.Model.Provider,
		BaseURL:  cfg.Model.BaseURL,
		APIKey:   cfg.Model.APIKey,
		Model:    cfg.Model.Name,
		Settings: cfg.Model.Settings,
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	logger.Info("provider initialized", "type", prov.Name(), "model", cfg.Model.Name)

	var store transcript.Store
	if cfg.Session.DBPath != "" {
		sqlite, err := transcript.NewSQLiteStore(cfg.Session.DBPath)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		defer sqlite.Close()
		store = sqlite
	}

	tr, err := openTranscript(store, *resume, logger)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	var serverStderr io.Writer
	if *verbose {
		serverStderr = stderr
	}
	client, err := mcp.Connect(ctx, target, mcp.Options{
		PythonCommand: cfg.MCP.PythonCommand,
		NodeCommand:   cfg.MCP.NodeCommand,
		Stderr:        serverStderr,
		AuthToken:     cfg.MCP.AuthToken,
		ClientName:    "opsbridge",
		ClientVersion: version,
	})
	if err != nil {
		var unsupported *mcp.UnsupportedServerTypeError
		if errors.As(err, &unsupported) {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer client.Close()

	registry := tool.NewRegistry(client)
	tools := initialTools(ctx, registry, logger)
	logger.Info("connected to server", "target", target, "tools", len(tools))

	d := dispatch.New(prov, registry, tr)
	d.History = cfg.Session.History
	d.Model = cfg.Model.Name
	d.Logger = logger.With("component", "dispatch")

	repl.PrintBanner(stdout, isTerminal(stdout), cfg.Model.Name, target, tools)

	r := &repl.REPL{
		Handler:    d,
		Tools:      registry,
		Transcript: tr,
		Store:      store,
		Logs:       logBuf,
		In:         stdin,
		Out:        stdout,
		Logger:     logger.With("component", "repl"),
	}
	if err := r.Run(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	logger.Debug("session ended", "session", tr.ID(), "messages", tr.Len())
	return 0
}

// initialTools runs the startup discovery. A failure is only logged: the
// session stays usable and every query discovers again.
func initialTools(ctx context.Context, tools repl.ToolLister, logger *slog.Logger) []string {
	descs, err := tools.Discover(ctx)
	if err != nil {
		logger.Warn("tool discovery failed, queries will retry it", "error", err)
		return nil
	}
	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
	}
	return names
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// newLogger builds the slog logger described by cfg. Every record also goes to
// a ring buffer for the /logs command unless buffer_size is 0.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, *logbuf.Buffer, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("log format %q is not one of text, json", cfg.Format)
	}

	if cfg.BufferSize == 0 {
		return slog.New(handler), nil, nil
	}
	buf := logbuf.New(cfg.BufferSize)
	return slog.New(logbuf.NewHandler(handler, buf)), buf, nil
}

func openTranscript(store transcript.Store, resumeID string, logger *slog.Logger) (*transcript.Transcript, error) {
	if resumeID == "" {
		return transcript.New(store, logger), nil
	}
	tr, err := transcript.Resume(store, resumeID, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("resumed session", "session", resumeID, "messages", tr.Len())
	return tr, nil
}
