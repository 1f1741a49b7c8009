// Package users maps external chat identities to internal user records.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is the stored identity record.
type User struct {
	ID         int64
	ExternalID int64
	Username   string
	FirstName  string
	LastName   string
	CreatedAt  time.Time
}

// Profile carries the optional display fields reported by the chat platform.
type Profile struct {
	Username  string
	FirstName string
	LastName  string
}

// Registry is a get-or-create user table.
type Registry struct {
	DB *sql.DB
}

// EnsureUser returns the user for externalID, creating it from hint on first
// sight. Profile fields are first-write-wins: later hints are ignored.
// created reports whether this call inserted the row.
func (r *Registry) EnsureUser(ctx context.Context, externalID int64, hint Profile) (User, bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (external_id, username, first_name, last_name)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(external_id) DO NOTHING`,
		externalID, nullable(hint.Username), nullable(hint.FirstName), nullable(hint.LastName),
	)
	if err != nil {
		return User{}, false, fmt.Errorf("users ensure external_id=%d: %w", externalID, err)
	}
	affected, _ := res.RowsAffected()

	u, found, err := r.Lookup(ctx, externalID)
	if err != nil {
		return User{}, false, err
	}
	if !found {
		return User{}, false, fmt.Errorf("users ensure external_id=%d: row missing after insert", externalID)
	}
	return u, affected > 0, nil
}

// Lookup finds a user by external id without creating it.
func (r *Registry) Lookup(ctx context.Context, externalID int64) (User, bool, error) {
	var (
		u                   User
		username, first, ln sql.NullString
		createdAt           int64
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, external_id, username, first_name, last_name, created_at
		 FROM users WHERE external_id = ?`,
		externalID,
	).Scan(&u.ID, &u.ExternalID, &username, &first, &ln, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("users lookup external_id=%d: %w", externalID, err)
	}
	u.Username = username.String
	u.FirstName = first.String
	u.LastName = ln.String
	u.CreatedAt = time.Unix(createdAt, 0)
	return u, true, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
