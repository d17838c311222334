package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/statekeeper/internal/store"
	"github.com/roach88/statekeeper/internal/value"
)

// Entry is one recorded notification.
type Entry struct {
	ID       string
	Store    string
	Seq      int64
	TxID     string
	Type     store.EventType
	Name     string
	Args     []value.Value
	Value    value.Value
	Previous value.Value
}

// Filter narrows Entries. Zero fields match everything.
type Filter struct {
	Store    string
	TxID     string
	Types    []store.EventType
	Name     string
	AfterSeq int64
	Limit    int
}

func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Store != "" {
		clauses = append(clauses, "store = ?")
		args = append(args, f.Store)
	}
	if f.TxID != "" {
		clauses = append(clauses, "tx_id = ?")
		args = append(args, f.TxID)
	}
	if len(f.Types) > 0 {
		marks := make([]string, len(f.Types))
		for i, t := range f.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		clauses = append(clauses, "type IN ("+strings.Join(marks, ", ")+")")
	}
	if f.Name != "" {
		clauses = append(clauses, "name = ?")
		args = append(args, f.Name)
	}
	if f.AfterSeq > 0 {
		clauses = append(clauses, "seq > ?")
		args = append(args, f.AfterSeq)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// Entries returns matching notifications in publication order.
// Returns an empty slice (not nil) when nothing matches.
func (j *Journal) Entries(ctx context.Context, f Filter) ([]Entry, error) {
	where, args := f.where()
	query := `
		SELECT id, store, seq, tx_id, type, name, args, value, previous
		FROM notifications
		` + where + `
		ORDER BY seq ASC, id COLLATE BINARY ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return entries, nil
}

// Count returns the number of matching notifications.
func (j *Journal) Count(ctx context.Context, f Filter) (int, error) {
	where, args := f.where()
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return n, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                           Entry
		typ                         string
		argsJSON, valueJSON, prevJS string
	)
	if err := rows.Scan(&e.ID, &e.Store, &e.Seq, &e.TxID, &typ, &e.Name, &argsJSON, &valueJSON, &prevJS); err != nil {
		return Entry{}, fmt.Errorf("scan notification: %w", err)
	}
	e.Type = store.EventType(typ)

	var err error
	if e.Args, err = unmarshalArgs(argsJSON); err != nil {
		return Entry{}, err
	}
	if e.Value, err = unmarshalValue(valueJSON); err != nil {
		return Entry{}, err
	}
	if e.Previous, err = unmarshalValue(prevJS); err != nil {
		return Entry{}, err
	}
	return e, nil
}
