// Package session persists conversations in SQLite. It is the concrete
// Store collaborator the chat orchestrator writes through.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/colebaker/chatwire/internal/llm"
)

// Schema for the sessions database. Messages store the full versioned
// message as JSON; text_content mirrors the visible text for FTS.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    name TEXT,
    provider TEXT,
    model TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    input_tokens INTEGER DEFAULT 0,
    output_tokens INTEGER DEFAULT 0,
    total_tokens INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
    rowid INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    body TEXT NOT NULL,
    text_content TEXT,
    sequence INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, sequence);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    text_content,
    content='messages',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, text_content) VALUES (new.rowid, new.text_content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, text_content) VALUES ('delete', old.rowid, old.text_content);
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, text_content) VALUES ('delete', old.rowid, old.text_content);
    INSERT INTO messages_fts(rowid, text_content) VALUES (new.rowid, new.text_content);
END;
`

// Session is one conversation's metadata row.
type Session struct {
	ID           string
	Name         string
	Provider     string
	Model        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// SearchResult is one FTS hit.
type SearchResult struct {
	SessionID string
	MessageID string
	Role      string
	Snippet   string
}

// SQLiteStore persists sessions and messages. Writes are serialized with
// a mutex so a background tool result cannot interleave with a streaming
// checkpoint for the same session.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a session row; existing rows are left alone.
func (s *SQLiteStore) CreateSession(ctx context.Context, id, name, provider, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, provider, model) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`, id, name, provider, model)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Sessions lists sessions, most recently updated first.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(name,''), COALESCE(provider,''), COALESCE(model,''),
		        created_at, updated_at, input_tokens, output_tokens, total_tokens
		 FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.Provider, &sess.Model,
			&sess.CreatedAt, &sess.UpdatedAt, &sess.InputTokens, &sess.OutputTokens, &sess.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Messages returns the session's messages in insertion order.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]llm.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM messages WHERE session_id = ? ORDER BY sequence`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var messages []llm.Message
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg llm.Message
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AppendMessage inserts a message at the end of the session, creating the
// session row on first write.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg llm.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, sessionID); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE session_id = ?`, sessionID).Scan(&next); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, body, text_content, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, string(msg.Role), string(body), searchText(&msg), next); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

// UpdateMessage rewrites a message body in place.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, sessionID string, msg llm.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET body = ?, text_content = ? WHERE id = ? AND session_id = ?`,
		string(body), searchText(&msg), msg.ID, sessionID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update message: %s not found in session %s", msg.ID, sessionID)
	}
	return nil
}

// DeleteMessage removes a message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, sessionID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id = ? AND session_id = ?`, messageID, sessionID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// AddUsage accumulates token counts onto the session row.
func (s *SQLiteStore) AddUsage(ctx context.Context, sessionID string, usage llm.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET input_tokens = input_tokens + ?,
		        output_tokens = output_tokens + ?,
		        total_tokens = total_tokens + ?,
		        updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		usage.InputTokens, usage.OutputTokens, usage.TotalTokens, sessionID); err != nil {
		return fmt.Errorf("add usage: %w", err)
	}
	return nil
}

// Search runs a full-text query over message text across all sessions.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.session_id, m.id, m.role,
		        snippet(messages_fts, 0, '[', ']', '…', 12)
		 FROM messages_fts f
		 JOIN messages m ON m.rowid = f.rowid
		 WHERE messages_fts MATCH ?
		 ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.SessionID, &r.MessageID, &r.Role, &r.Snippet); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteSession removes a session and, via cascade, its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// searchText extracts the indexable text of a message: every version plus
// reasoning and tool results.
func searchText(msg *llm.Message) string {
	text := ""
	for _, v := range msg.Versions {
		if v != "" {
			if text != "" {
				text += "\n"
			}
			text += v
		}
	}
	if msg.Reasoning != "" {
		text += "\n" + msg.Reasoning
	}
	for _, call := range msg.ToolCalls {
		if call.Result != "" {
			text += "\n" + call.Result
		}
	}
	return text
}
