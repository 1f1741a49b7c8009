// Command event-tree prints the event log of a relay run as a tree.
package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Event is a row from the events table plus its children.
type Event struct {
	ID        int64
	Timestamp int64
	ParentID  sql.NullInt64
	EventType string
	Payload   sql.NullString
	Children  []*Event
}

type options struct {
	dbPath    string
	eventID   int64
	maxDepth  int
	jsonOut   bool
	noPayload bool
	types     []string
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "event-tree: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	var (
		opts  options
		types string
	)
	fs := flag.NewFlagSet("event-tree", flag.ContinueOnError)
	fs.StringVar(&opts.dbPath, "db", envOrDefault("DB_NAME", "chat_history.db"), "SQLite database path")
	fs.Int64Var(&opts.eventID, "id", 0, "show subtree of a specific event ID (default: latest relay run)")
	fs.IntVar(&opts.maxDepth, "L", 0, "limit display depth (0 = unlimited)")
	fs.BoolVar(&opts.jsonOut, "json", false, "output JSON format")
	fs.BoolVar(&opts.noPayload, "no-payload", false, "hide payload details")
	fs.StringVar(&types, "type", "", "comma-separated event types to keep (ancestors are always shown)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, t := range strings.Split(types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			opts.types = append(opts.types, t)
		}
	}

	database, err := sql.Open("sqlite3", opts.dbPath+"?mode=ro&_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer database.Close()
	if err := database.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	rootID := opts.eventID
	if rootID == 0 {
		if rootID, err = latestRelayRoot(database); err != nil {
			return err
		}
	}
	events, err := querySubtree(database, rootID)
	if err != nil {
		return fmt.Errorf("query subtree: %w", err)
	}
	root := buildTree(events, rootID)
	if root == nil {
		return fmt.Errorf("event %d not found", rootID)
	}
	if len(opts.types) > 0 {
		root = filterTree(root, opts.types)
	}

	if opts.jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(toJSONEvent(root, 1, opts.maxDepth, opts.noPayload))
	}
	printTree(stdout, root, "", true, 1, opts.maxDepth, opts.noPayload)
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// latestRelayRoot finds the most recent process.started event with role=relay.
func latestRelayRoot(db *sql.DB) (int64, error) {
	var id int64
	err := db.QueryRow(
		`SELECT id FROM events WHERE event_type = 'process.started'
		 AND json_extract(payload, '$.role') = 'relay'
		 ORDER BY id DESC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("no relay process.started event found")
	}
	return id, err
}

// querySubtree returns every event under rootID, rootID included.
func querySubtree(db *sql.DB, rootID int64) ([]*Event, error) {
	rows, err := db.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM events WHERE id = ?
			UNION ALL
			SELECT e.id FROM events e JOIN subtree s ON e.parent_id = s.id
		)
		SELECT e.id, e.timestamp, e.parent_id, e.event_type, e.payload
		FROM events e
		WHERE e.id IN (SELECT id FROM subtree)
		ORDER BY e.id ASC
	`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.ParentID, &ev.EventType, &ev.Payload); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// buildTree links events to their parents; events arrive in id order so
// children end up sorted.
func buildTree(events []*Event, rootID int64) *Event {
	byID := make(map[int64]*Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	for _, ev := range events {
		if !ev.ParentID.Valid || ev.ParentID.Int64 == ev.ID || ev.ID == rootID {
			continue
		}
		if parent, ok := byID[ev.ParentID.Int64]; ok {
			parent.Children = append(parent.Children, ev)
		}
	}
	return byID[rootID]
}

// filterTree drops subtrees that contain none of the wanted types. The root
// is always kept.
func filterTree(root *Event, types []string) *Event {
	var keep func(ev *Event) bool
	keep = func(ev *Event) bool {
		kids := ev.Children[:0]
		for _, c := range ev.Children {
			if keep(c) {
				kids = append(kids, c)
			}
		}
		ev.Children = kids
		return len(kids) > 0 || slices.Contains(types, ev.EventType)
	}
	keep(root)
	return root
}

func printTree(w io.Writer, ev *Event, prefix string, isLast bool, depth, maxDepth int, noPayload bool) {
	line := formatEvent(ev, noPayload)
	if depth == 1 {
		fmt.Fprintln(w, line)
	} else if isLast {
		fmt.Fprintln(w, prefix+"└── "+line)
	} else {
		fmt.Fprintln(w, prefix+"├── "+line)
	}

	childPrefix := prefix
	if depth > 1 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	if maxDepth > 0 && depth >= maxDepth {
		if len(ev.Children) > 0 {
			fmt.Fprintln(w, childPrefix+"└── [...]")
		}
		return
	}
	for i, child := range ev.Children {
		printTree(w, child, childPrefix, i == len(ev.Children)-1, depth+1, maxDepth, noPayload)
	}
}

// formatEvent renders "[id] timestamp  event_type  key=value ...".
func formatEvent(ev *Event, noPayload bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s  %s", ev.ID, time.Unix(ev.Timestamp, 0).UTC().Format(time.DateTime), ev.EventType)
	if noPayload {
		return b.String()
	}
	m := decodePayload(ev.Payload)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s=%s", k, formatValue(m[k]))
	}
	return b.String()
}

func decodePayload(p sql.NullString) map[string]any {
	if !p.Valid || p.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(p.String), &m); err != nil {
		return nil
	}
	return m
}

// formatValue prints whole numbers without exponent and quotes long strings
// after cutting them to 80 runes.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if r := []rune(val); len(r) > 80 {
			return fmt.Sprintf("%q", string(r[:80])+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonEvent struct {
	ID        int64       `json:"id"`
	Timestamp int64       `json:"timestamp"`
	EventType string      `json:"event_type"`
	Payload   any         `json:"payload,omitempty"`
	Children  []jsonEvent `json:"children,omitempty"`
}

func toJSONEvent(ev *Event, depth, maxDepth int, noPayload bool) jsonEvent {
	je := jsonEvent{ID: ev.ID, Timestamp: ev.Timestamp, EventType: ev.EventType}
	if !noPayload {
		if m := decodePayload(ev.Payload); m != nil {
			je.Payload = m
		}
	}
	if maxDepth > 0 && depth >= maxDepth {
		return je
	}
	for _, child := range ev.Children {
		je.Children = append(je.Children, toJSONEvent(child, depth+1, maxDepth, noPayload))
	}
	return je
}
