package transcript

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opsbridge/opsbridge/pkg/protocol"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("transcript store: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("transcript store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			session_id   TEXT NOT NULL REFERENCES sessions(id),
			seq          INTEGER NOT NULL,
			role         TEXT NOT NULL,
			content      TEXT NOT NULL DEFAULT '',
			tool_calls   TEXT NOT NULL DEFAULT '[]',
			tool_call_id TEXT NOT NULL DEFAULT '',
			name         TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (session_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
	`)
	if err != nil {
		return fmt.Errorf("transcript store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateSession(id string, createdAt time.Time) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO sessions (id, created_at) VALUES (?, ?)`,
		id, createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("transcript store: create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(sessionID string, seq int, msg protocol.ChatMessage) error {
	toolCalls, _ := json.Marshal(msg.ToolCalls)
	_, err := s.db.Exec(`
		INSERT INTO messages (session_id, seq, role, content, tool_calls, tool_call_id, name)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO UPDATE SET
			role=excluded.role, content=excluded.content, tool_calls=excluded.tool_calls,
			tool_call_id=excluded.tool_call_id, name=excluded.name
	`, sessionID, seq, msg.Role, msg.Content, string(toolCalls), msg.ToolCallID, msg.Name)
	if err != nil {
		return fmt.Errorf("transcript store: append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadMessages(sessionID string) ([]protocol.ChatMessage, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("transcript store: load: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("session %q not found", sessionID)
	}

	rows, err := s.db.Query(`SELECT role, content, tool_calls, tool_call_id, name FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("transcript store: load messages: %w", err)
	}
	defer rows.Close()

	var msgs []protocol.ChatMessage
	for rows.Next() {
		var m protocol.ChatMessage
		var toolCallsJSON string
		if err := rows.Scan(&m.Role, &m.Content, &toolCallsJSON, &m.ToolCallID, &m.Name); err != nil {
			return nil, fmt.Errorf("transcript store: scan message: %w", err)
		}
		json.Unmarshal([]byte(toolCallsJSON), &m.ToolCalls)
		if len(m.ToolCalls) == 0 {
			m.ToolCalls = nil
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) ListSessions(limit int) ([]SessionInfo, error) {
	query := `
		SELECT s.id, s.created_at, COUNT(m.seq)
		FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		GROUP BY s.id, s.created_at
		ORDER BY s.created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("transcript store: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var createdAt string
		if err := rows.Scan(&info.ID, &createdAt, &info.Messages); err != nil {
			return nil, fmt.Errorf("transcript store: scan session: %w", err)
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		sessions = append(sessions, info)
	}
	return sessions, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
