package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voiceturn/pkg/memory"
)

// SessionStoreImpl is the session log backed by the turn_entries table.
// Obtain one via [Store.Sessions].
type SessionStoreImpl struct {
	pool *pgxpool.Pool
}

const entryColumns = "id, session_id, turn_id, role, text, timestamp, duration_ns"

// WriteEntry implements [memory.SessionStore].
func (s *SessionStoreImpl) WriteEntry(ctx context.Context, entry memory.Entry) error {
	if entry.SessionID == "" {
		return errors.New("session store: write entry: session id must not be empty")
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	const q = `
		INSERT INTO turn_entries (session_id, turn_id, role, text, timestamp, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := s.pool.Exec(ctx, q,
		entry.SessionID,
		entry.TurnID,
		string(entry.Role),
		entry.Text,
		ts,
		entry.Duration.Nanoseconds(),
	); err != nil {
		return fmt.Errorf("session store: write entry: %w", err)
	}
	return nil
}

// Entries implements [memory.SessionStore].
func (s *SessionStoreImpl) Entries(ctx context.Context, sessionID string, limit int) ([]memory.Entry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.pool.Query(ctx, `
			SELECT `+entryColumns+` FROM (
			    SELECT `+entryColumns+`
			    FROM   turn_entries
			    WHERE  session_id = $1
			    ORDER  BY timestamp DESC, id DESC
			    LIMIT  $2
			) newest
			ORDER BY timestamp, id`, sessionID, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+entryColumns+`
			FROM   turn_entries
			WHERE  session_id = $1
			ORDER  BY timestamp, id`, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("session store: entries: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [memory.SessionStore]. The query goes through
// plainto_tsquery, so no operator syntax is needed.
func (s *SessionStoreImpl) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.Entry, error) {
	args := []any{query}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', text) @@ plainto_tsquery('english', $1)",
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if opts.Role != "" {
		conditions = append(conditions, "role = "+next(string(opts.Role)))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(opts.Before))
	}

	q := "SELECT " + entryColumns + "\n" +
		"FROM   turn_entries\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY timestamp, id"
	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session store: search: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]memory.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Entry, error) {
		var (
			e          memory.Entry
			role       string
			durationNS int64
		)
		if err := row.Scan(&e.ID, &e.SessionID, &e.TurnID, &role, &e.Text, &e.Timestamp, &durationNS); err != nil {
			return memory.Entry{}, err
		}
		e.Role = memory.Role(role)
		e.Duration = time.Duration(durationNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	return entries, nil
}
