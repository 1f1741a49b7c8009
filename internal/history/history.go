// Package history is the durable, append-only per-user message log.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Role tags one conversational turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is one stored turn.
type Message struct {
	ID        int64
	UserID    int64
	Role      Role
	Content   string
	Timestamp time.Time
}

// Store is the history log used by the context builder, relay and handlers.
type Store interface {
	Append(ctx context.Context, userID int64, role Role, content string) error
	AppendAt(ctx context.Context, userID int64, role Role, content string, ts time.Time) error
	LoadOrdered(ctx context.Context, userID int64) ([]Message, error)
	Clear(ctx context.Context, userID int64) (int64, error)
}

// SQLiteStore keeps history in the messages table.
type SQLiteStore struct {
	DB *sql.DB
	// Now stamps appended messages; defaults to time.Now.
	Now func() time.Time
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{DB: db, Now: time.Now}
}

// Append writes one message stamped with the store clock.
func (s *SQLiteStore) Append(ctx context.Context, userID int64, role Role, content string) error {
	return s.AppendAt(ctx, userID, role, content, s.now())
}

// AppendAt writes one message with an explicit timestamp.
func (s *SQLiteStore) AppendAt(ctx context.Context, userID int64, role Role, content string, ts time.Time) error {
	if !role.Valid() {
		return fmt.Errorf("history append: invalid role %q", role)
	}
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO messages (user_id, role, content, timestamp) VALUES (?, ?, ?, ?)",
		userID, string(role), content, ts.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("history append user_id=%d: %w", userID, err)
	}
	return nil
}

// LoadOrdered returns every message of the user, oldest first.
func (s *SQLiteStore) LoadOrdered(ctx context.Context, userID int64) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT id, user_id, role, content, timestamp FROM messages WHERE user_id = ? ORDER BY timestamp ASC, id ASC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("history load user_id=%d: %w", userID, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m    Message
			role string
			ts   int64
		)
		if err := rows.Scan(&m.ID, &m.UserID, &role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("history scan user_id=%d: %w", userID, err)
		}
		m.Role = Role(role)
		m.Timestamp = time.Unix(0, ts)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history load user_id=%d: %w", userID, err)
	}
	return out, nil
}

// Clear deletes all messages of the user and returns how many were removed.
// Clearing an empty history succeeds with 0.
func (s *SQLiteStore) Clear(ctx context.Context, userID int64) (int64, error) {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM messages WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("history clear user_id=%d: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
