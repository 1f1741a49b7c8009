// Command history prints the stored conversation of one chat user.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/stupiduntilnot/chatrelay/internal/db"
	"github.com/stupiduntilnot/chatrelay/internal/history"
	"github.com/stupiduntilnot/chatrelay/internal/logging"
	"github.com/stupiduntilnot/chatrelay/internal/users"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		os.Exit(1)
	}
}

type entry struct {
	ID        int64  `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var (
		dbPath     string
		externalID int64
		limit      int
		width      int
		jsonOut    bool
	)
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.StringVar(&dbPath, "db", envOrDefault("DB_NAME", "chat_history.db"), "SQLite database path")
	fs.Int64Var(&externalID, "user", 0, "chat platform user id (required)")
	fs.IntVar(&limit, "n", 0, "show only the last n messages (0 = all)")
	fs.IntVar(&width, "w", 0, "cut message text to w characters in text output (0 = no limit)")
	fs.BoolVar(&jsonOut, "json", false, "output JSON lines")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if externalID == 0 {
		return errors.New("-user is required")
	}

	database, err := db.OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.InitSchema(database); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}

	user, found, err := (&users.Registry{DB: database}).Lookup(ctx, externalID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no user with external id %d", externalID)
	}
	msgs, err := history.NewSQLiteStore(database).LoadOrdered(ctx, user.ID)
	if err != nil {
		return err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	if jsonOut {
		enc := json.NewEncoder(stdout)
		for _, m := range msgs {
			if err := enc.Encode(entry{
				ID:        m.ID,
				Role:      string(m.Role),
				Content:   m.Content,
				Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
			}); err != nil {
				return err
			}
		}
		return nil
	}

	name := user.Username
	if name == "" {
		name = user.FirstName
	}
	fmt.Fprintf(stdout, "user %d (external %d) %s: %d messages\n", user.ID, user.ExternalID, name, len(msgs))
	for _, m := range msgs {
		content := m.Content
		if width > 0 {
			content = logging.Truncate(content, width)
		}
		fmt.Fprintf(stdout, "[%s] %-9s %s\n", m.Timestamp.UTC().Format(time.DateTime), m.Role, content)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
