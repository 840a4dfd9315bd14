// Package logbuf keeps the most recent log records in memory so the
// interactive client can show them on demand.
package logbuf

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Entry is a single log record captured from slog.
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     slog.Level     `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Buffer is a fixed-size ring of entries, safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// New creates a buffer holding up to size entries. A size below 1 holds one.
func New(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{entries: make([]Entry, size)}
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return len(b.entries) }

// Write appends an entry, overwriting the oldest when full.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.next] = e
	b.next++
	if b.next == len(b.entries) {
		b.next = 0
		b.full = true
	}
}

// Len returns the number of stored entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.entries)
	}
	return b.next
}

// Tail returns up to n of the newest entries at or above minLevel, oldest first.
// n <= 0 returns every matching entry.
func (b *Buffer) Tail(n int, minLevel slog.Level) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	ordered := b.entries[:b.next]
	if b.full {
		ordered = append(append([]Entry(nil), b.entries[b.next:]...), b.entries[:b.next]...)
	}

	var out []Entry
	for _, e := range ordered {
		if e.Level >= minLevel {
			out = append(out, e)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Format renders an entry on one line with its age relative to now,
// e.g. "WARN  2 minutes ago  dispatch: tool error: get_pods error=timeout".
func Format(e Entry, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-5s %s  ", e.Level.String(), humanize.RelTime(e.Time, now, "ago", "from now"))
	if e.Component != "" {
		sb.WriteString(e.Component)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Attrs[k])
	}
	return sb.String()
}
