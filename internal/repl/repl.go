// Package repl is the interactive query loop of the opsbridge client.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/opsbridge/opsbridge/internal/dispatch"
	"github.com/opsbridge/opsbridge/internal/logbuf"
	"github.com/opsbridge/opsbridge/internal/transcript"
	"github.com/opsbridge/opsbridge/pkg/protocol"
)

// Prompt is printed before every query.
const Prompt = "Query: "

const defaultLogLines = 20

// Handler runs one query to a terminal state. *dispatch.Dispatcher implements it.
type Handler interface {
	Handle(ctx context.Context, query string) (*dispatch.Reply, error)
}

// ToolLister re-discovers the server's tools. *tool.Registry implements it.
type ToolLister interface {
	Discover(ctx context.Context) ([]protocol.ToolDescriptor, error)
}

// REPL reads queries and prints replies until quit or end of input.
// Queries are handled strictly one after another.
type REPL struct {
	Handler    Handler
	Tools      ToolLister
	Transcript *transcript.Transcript // target of /reset
	Store      transcript.Store       // optional, enables /sessions
	Logs       *logbuf.Buffer         // optional, enables /logs
	In         io.Reader
	Out        io.Writer
	Logger     *slog.Logger
	Now        func() time.Time
}

func (r *REPL) reader() lineReader {
	in := r.In
	if in == nil {
		in = os.Stdin
	}
	// Line editing echoes to stdout, so it is only used when Out is stdout too.
	if f, ok := isTerminal(in); ok && (r.Out == nil || r.Out == io.Writer(os.Stdout)) {
		return newTerminalReader(f, Prompt)
	}
	return newScannerReader(in, r.out(), Prompt)
}

func (r *REPL) out() io.Writer {
	if r.Out == nil {
		return os.Stdout
	}
	return r.Out
}

func (r *REPL) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

type readResult struct {
	line string
	err  error
}

// Run loops until the user types quit, input ends or ctx is cancelled.
// It returns nil on a normal exit. A cancelled ctx ends the loop even while a
// read is pending.
func (r *REPL) Run(ctx context.Context) error {
	lines := r.reader()
	if c, ok := lines.(io.Closer); ok {
		defer c.Close()
	}
	out := r.out()

	// Buffered so a read that finishes after cancellation does not block.
	results := make(chan readResult, 1)
	for {
		if ctx.Err() != nil {
			return nil
		}
		go func() {
			line, err := lines.ReadLine()
			results <- readResult{line, err}
		}()

		var res readResult
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			r.logger().Debug("input abandoned", "reason", context.Cause(ctx))
			return nil
		case res = <-results:
		}
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				fmt.Fprintln(out)
				return nil
			}
			return fmt.Errorf("repl: read input: %w", res.err)
		}

		line := strings.TrimSpace(res.line)
		switch {
		case line == "":
			continue
		case strings.EqualFold(line, "quit"):
			return nil
		case strings.HasPrefix(line, "/"):
			r.command(ctx, line)
		default:
			r.query(ctx, line)
		}
	}
}

func (r *REPL) query(ctx context.Context, q string) {
	out := r.out()
	reply, err := r.Handler.Handle(ctx, q)
	if err != nil {
		r.logger().Debug("query failed", "error", err)
		fmt.Fprintf(out, "\nError: %s\n\n", err)
		return
	}
	if reply.Answer != "" {
		fmt.Fprintf(out, "\n%s\n\n", reply.Answer)
	}
}

func (r *REPL) command(ctx context.Context, line string) {
	out := r.out()
	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		fmt.Fprintln(out, "Commands:")
		fmt.Fprintln(out, "  /tools      list the server's tools")
		fmt.Fprintln(out, "  /logs [n]   show the last n log entries")
		fmt.Fprintln(out, "  /reset      start a new conversation")
		fmt.Fprintln(out, "  /sessions   list saved conversations")
		fmt.Fprintln(out, "  quit        exit")
	case "/tools":
		descs, err := r.Tools.Discover(ctx)
		if err != nil {
			fmt.Fprintf(out, "Error: %s\n", err)
			return
		}
		if len(descs) == 0 {
			fmt.Fprintln(out, "No tools available.")
			return
		}
		for _, d := range descs {
			fmt.Fprintf(out, "  %-32s %s\n", d.Name, d.Description)
		}
	case "/logs":
		r.printLogs(fields[1:])
	case "/reset":
		if r.Transcript == nil {
			fmt.Fprintln(out, "Error: no transcript")
			return
		}
		r.Transcript.Reset()
		fmt.Fprintf(out, "Started new conversation %s.\n", r.Transcript.ID())
	case "/sessions":
		r.printSessions()
	default:
		fmt.Fprintf(out, "Error: unknown command %s (try /help)\n", fields[0])
	}
}

func (r *REPL) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *REPL) printLogs(args []string) {
	out := r.out()
	if r.Logs == nil {
		fmt.Fprintln(out, "Log buffer is disabled.")
		return
	}
	n := defaultLogLines
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			fmt.Fprintf(out, "Error: invalid count %q\n", args[0])
			return
		}
		n = v
	}
	entries := r.Logs.Tail(n, slog.LevelDebug)
	if len(entries) == 0 {
		fmt.Fprintln(out, "No log entries.")
		return
	}
	now := r.now()
	for _, e := range entries {
		fmt.Fprintln(out, logbuf.Format(e, now))
	}
}

func (r *REPL) printSessions() {
	out := r.out()
	if r.Store == nil {
		fmt.Fprintln(out, "Sessions are not persisted (set session.db_path).")
		return
	}
	sessions, err := r.Store.ListSessions(10)
	if err != nil {
		fmt.Fprintf(out, "Error: %s\n", err)
		return
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No saved sessions.")
		return
	}
	now := r.now()
	for _, s := range sessions {
		marker := " "
		if r.Transcript != nil && s.ID == r.Transcript.ID() {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s  %3d messages  %s\n", marker, s.ID, s.Messages, humanize.RelTime(s.CreatedAt, now, "ago", "from now"))
	}
}
