package archive

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mogumoto/diaryd/internal/chat"
)

// tsLayout is fixed-width so the TEXT column compares and sorts
// chronologically; RFC3339Nano trims trailing zeros and does not.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store archives every message seen by the gateway so diary runs can
// replay a day's history without talking to the host platform.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conv TEXT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			nickname TEXT NOT NULL DEFAULT '',
			from_bot INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_ts ON messages(conv, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Record(msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fromBot := 0
	if msg.FromBot {
		fromBot = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (conv, sender_id, nickname, from_bot, content, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.Conv.String(), msg.SenderID, msg.Nickname, fromBot, msg.Text,
		msg.Timestamp.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// MessagesBetween returns the conversation's messages in [from, to),
// oldest first.
func (s *Store) MessagesBetween(ref chat.ConversationRef, from, to time.Time) ([]chat.Message, error) {
	rows, err := s.db.Query(
		`SELECT conv, sender_id, nickname, from_bot, content, ts
		 FROM messages WHERE conv = ? AND ts >= ? AND ts < ? ORDER BY ts ASC, id ASC`,
		ref.String(), from.UTC().Format(tsLayout), to.UTC().Format(tsLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// ActiveConversations lists conversations with at least one message in
// [from, to), ordered by ref string for determinism.
func (s *Store) ActiveConversations(from, to time.Time) ([]chat.ConversationRef, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT conv FROM messages WHERE ts >= ? AND ts < ? ORDER BY conv ASC`,
		from.UTC().Format(tsLayout), to.UTC().Format(tsLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query active conversations: %w", err)
	}
	defer rows.Close()

	var refs []chat.ConversationRef
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		ref, err := chat.ParseRef(raw)
		if err != nil {
			// Rows written by Record always parse; skip anything else.
			continue
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func scanMessage(rows *sql.Rows) (chat.Message, error) {
	var (
		raw, senderID, nickname, content, ts string
		fromBot                              int
	)
	if err := rows.Scan(&raw, &senderID, &nickname, &fromBot, &content, &ts); err != nil {
		return chat.Message{}, err
	}
	ref, err := chat.ParseRef(raw)
	if err != nil {
		return chat.Message{}, fmt.Errorf("corrupt conv ref %q: %w", raw, err)
	}
	when, err := time.Parse(tsLayout, ts)
	if err != nil {
		return chat.Message{}, fmt.Errorf("corrupt timestamp %q: %w", ts, err)
	}
	return chat.Message{
		Conv:      ref,
		SenderID:  senderID,
		Nickname:  nickname,
		FromBot:   fromBot != 0,
		Timestamp: when,
		Text:      content,
	}, nil
}
