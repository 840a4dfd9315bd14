package transcript

import (
	"time"

	"github.com/opsbridge/opsbridge/pkg/protocol"
)

// Store is the persistence interface for chat sessions and their messages.
type Store interface {
	// CreateSession records a new session.
	CreateSession(id string, createdAt time.Time) error
	// AppendMessage stores msg at position seq of the session.
	AppendMessage(sessionID string, seq int, msg protocol.ChatMessage) error
	// LoadMessages returns a session's messages in order.
	LoadMessages(sessionID string) ([]protocol.ChatMessage, error)
	// ListSessions returns the most recent sessions first.
	ListSessions(limit int) ([]SessionInfo, error)
}

// SessionInfo summarises a stored session.
type SessionInfo struct {
	ID        string
	CreatedAt time.Time
	Messages  int
}
