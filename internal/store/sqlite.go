// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Optional backing for conversation logs with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes appends (seq allocation) and keeps
	// ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			created_seq INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			text TEXT,
			attachment_url TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (role IN ('end_user', 'operator'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_seq
			ON messages(conversation_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ensureConversation inserts the conversation row if missing
func ensureConversation(ctx context.Context, q execer, conversationID string, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, created_at, created_seq)
		VALUES (?, ?, (SELECT COALESCE(MAX(created_seq), 0) + 1 FROM conversations))`,
		conversationID, now.UTC().Format(time.RFC3339Nano))
	return err
}

// GetOrCreate returns the conversation, creating it if absent.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, conversationID string) (*Conversation, error) {
	if conversationID == "" {
		return nil, ErrEmptyConversationID
	}

	if err := ensureConversation(ctx, s.db, conversationID, time.Now()); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM conversations WHERE id = ?`, conversationID).Scan(&createdAt)
	if err != nil {
		return nil, fmt.Errorf("reading conversation: %w", err)
	}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	messages, err := s.History(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	return &Conversation{
		ID:        conversationID,
		CreatedAt: created,
		Messages:  messages,
	}, nil
}

// Append inserts msg as the next entry of the conversation log.
func (s *SQLiteStore) Append(ctx context.Context, conversationID string, msg *Message) error {
	if conversationID == "" {
		return ErrEmptyConversationID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := ensureConversation(ctx, tx, conversationID, msg.CreatedAt); err != nil {
		return fmt.Errorf("creating conversation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, role, text, attachment_url, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?), ?, ?, ?, ?)`,
		msg.ID, conversationID, conversationID, string(msg.Role),
		nullString(msg.Text), nullString(msg.AttachmentURL),
		msg.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}
	return nil
}

// History returns the conversation log ordered by sequence number.
func (s *SQLiteStore) History(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, text, attachment_url, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			m          Message
			role       string
			text       sql.NullString
			attachment sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&m.ID, &role, &text, &attachment, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.ConversationID = conversationID
		m.Role = Role(role)
		if text.Valid {
			m.Text = &text.String
		}
		if attachment.Valid {
			m.AttachmentURL = &attachment.String
		}
		m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

// List returns a summary of every conversation in creation order.
func (s *SQLiteStore) List(ctx context.Context) ([]ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, COUNT(m.id)
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY c.id
		ORDER BY c.created_seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	out := []ConversationSummary{}
	for rows.Next() {
		var sum ConversationSummary
		if err := rows.Scan(&sum.ConversationID, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Count returns the number of known conversations, or 0 if the query fails
func (s *SQLiteStore) Count() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		s.logger.Warn("failed to count conversations", "error", err)
		return 0
	}
	return n
}

// Ping checks that the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
