// Package transcript holds the ordered conversation sent to the model and
// optionally writes it through to a Store.
package transcript

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsbridge/opsbridge/pkg/protocol"
)

// History modes.
const (
	// HistorySession keeps one transcript for the whole chat session.
	HistorySession = "session"
	// HistoryQuery starts a fresh transcript for every query.
	HistoryQuery = "query"
)

// Transcript is an append-only message list identified by a session ID.
// Messages are kept in conversational order.
type Transcript struct {
	mu       sync.Mutex
	id       string
	messages []protocol.ChatMessage
	created  bool
	store    Store
	logger   *slog.Logger
}

// New creates an empty transcript. store may be nil.
func New(store Store, logger *slog.Logger) *Transcript {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcript{
		id:     uuid.NewString(),
		store:  store,
		logger: logger.With("component", "transcript"),
	}
}

// Resume loads a stored session and continues appending to it.
func Resume(store Store, id string, logger *slog.Logger) (*Transcript, error) {
	if store == nil {
		return nil, fmt.Errorf("transcript: resume %s: no store configured", id)
	}
	msgs, err := store.LoadMessages(id)
	if err != nil {
		return nil, fmt.Errorf("transcript: resume: %w", err)
	}
	t := New(store, logger)
	t.id = id
	t.messages = msgs
	t.created = true
	return t, nil
}

// ID returns the session ID.
func (t *Transcript) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Append adds messages in order. Store failures are logged, never returned.
func (t *Transcript) Append(msgs ...protocol.ChatMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range msgs {
		seq := len(t.messages)
		t.messages = append(t.messages, m)
		t.persist(seq, m)
	}
}

func (t *Transcript) persist(seq int, m protocol.ChatMessage) {
	if t.store == nil {
		return
	}
	if !t.created {
		if err := t.store.CreateSession(t.id, time.Now()); err != nil {
			t.logger.Warn("failed to create session", "session", t.id, "error", err)
			return
		}
		t.created = true
	}
	if err := t.store.AppendMessage(t.id, seq, m); err != nil {
		t.logger.Warn("failed to persist message", "session", t.id, "seq", seq, "error", err)
	}
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []protocol.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.ChatMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Reset starts a new, empty transcript under a fresh session ID.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.id = uuid.NewString()
	t.messages = nil
	t.created = false
}
