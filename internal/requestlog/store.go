// Package requestlog persists one audit row per /chat/ask request: blocked,
// invalid, completed or failed upstream. SQLite and Postgres are supported.
package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DefaultListLimit and MaxListLimit bound Query.Limit.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Entry is a single request audit record.
type Entry struct {
	TraceID        string    `json:"trace_id"`
	Subject        string    `json:"subject,omitempty"`
	Outcome        string    `json:"outcome"`
	Model          string    `json:"model,omitempty"`
	MatchedTerm    string    `json:"matched_term,omitempty"`
	UpstreamStatus int       `json:"upstream_status,omitempty"`
	ElapsedMillis  int64     `json:"elapsed_ms"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Query filters List.
type Query struct {
	Limit   int
	Offset  int
	Outcome string
	Subject string
}

// ListResult is one page of entries plus the total matching count.
type ListResult struct {
	Data  []Entry `json:"data"`
	Total int     `json:"total"`
}

// MaintenanceQuery selects entries to delete.
type MaintenanceQuery struct {
	Before  *time.Time
	Outcome string
}

// Writer persists request log entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// Reader lists persisted entries.
type Reader interface {
	List(ctx context.Context, q Query) (ListResult, error)
}

// Maintainer deletes persisted entries.
type Maintainer interface {
	Delete(ctx context.Context, q MaintenanceQuery) (int64, error)
}

// NoopWriter ignores all log writes.
type NoopWriter struct{}

// Write implements Writer.
func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

// SQLWriter persists entries to SQLite or Postgres.
type SQLWriter struct {
	db      *sql.DB
	dialect string
}

// Open returns a writer for driver ("sqlite" or "postgres"). An empty driver
// yields a NoopWriter and a nil *SQLWriter.
func Open(driver, dsn string) (Writer, *SQLWriter, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "":
		return NoopWriter{}, nil, nil
	case "sqlite":
		w, err := NewSQLiteWriter(dsn)
		return w, w, err
	case "postgres":
		w, err := NewPostgresWriter(dsn)
		return w, w, err
	default:
		return nil, nil, fmt.Errorf("unsupported request log driver %q", driver)
	}
}

// NewSQLiteWriter opens (and creates) a SQLite database at dsn.
func NewSQLiteWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "chatproxy-requests.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite request log writer: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "sqlite"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

// NewPostgresWriter connects to Postgres at dsn.
func NewPostgresWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres request log writer: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "postgres"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLWriter) init() error {
	if err := w.db.Ping(); err != nil {
		return fmt.Errorf("ping %s request log writer: %w", w.dialect, err)
	}

	id, ts := "INTEGER PRIMARY KEY", "TIMESTAMP"
	if w.dialect == "postgres" {
		id, ts = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	}
	ddl := `
CREATE TABLE IF NOT EXISTS chat_requests (
	id ` + id + `,
	trace_id TEXT,
	subject TEXT,
	outcome TEXT NOT NULL,
	model TEXT,
	matched_term TEXT,
	upstream_status INTEGER NOT NULL,
	elapsed_ms BIGINT NOT NULL,
	error_message TEXT,
	created_at ` + ts + ` NOT NULL
);`
	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize request log schema: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (w *SQLWriter) rebind(query string) string {
	if w.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Write implements Writer.
func (w *SQLWriter) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := w.rebind(`INSERT INTO chat_requests(trace_id, subject, outcome, model, matched_term, upstream_status, elapsed_ms, error_message, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := w.db.ExecContext(ctx, query,
		entry.TraceID,
		entry.Subject,
		entry.Outcome,
		entry.Model,
		entry.MatchedTerm,
		entry.UpstreamStatus,
		entry.ElapsedMillis,
		entry.ErrorMessage,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("write request log: %w", err)
	}
	return nil
}

func buildWhere(conds map[string]string) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	for _, col := range []string{"outcome", "subject"} {
		if v := strings.TrimSpace(conds[col]); v != "" {
			clauses = append(clauses, col+" = ?")
			args = append(args, v)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns entries newest first.
func (w *SQLWriter) List(ctx context.Context, q Query) (ListResult, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	where, args := buildWhere(map[string]string{"outcome": q.Outcome, "subject": q.Subject})

	var total int
	if err := w.db.QueryRowContext(ctx, w.rebind("SELECT COUNT(*) FROM chat_requests"+where), args...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("count request logs: %w", err)
	}

	query := w.rebind(`SELECT trace_id, subject, outcome, model, matched_term, upstream_status, elapsed_ms, error_message, created_at
	FROM chat_requests` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
	rows, err := w.db.QueryContext(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return ListResult{}, fmt.Errorf("list request logs: %w", err)
	}
	defer rows.Close()

	result := ListResult{Data: []Entry{}, Total: total}
	for rows.Next() {
		var (
			e                                       Entry
			traceID, subject, model, term, errorMsg sql.NullString
		)
		if err := rows.Scan(&traceID, &subject, &e.Outcome, &model, &term, &e.UpstreamStatus, &e.ElapsedMillis, &errorMsg, &e.CreatedAt); err != nil {
			return ListResult{}, fmt.Errorf("scan request log: %w", err)
		}
		e.TraceID = traceID.String
		e.Subject = subject.String
		e.Model = model.String
		e.MatchedTerm = term.String
		e.ErrorMessage = errorMsg.String
		result.Data = append(result.Data, e)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("iterate request logs: %w", err)
	}
	return result, nil
}

// Delete removes entries matching q and returns how many were removed.
func (w *SQLWriter) Delete(ctx context.Context, q MaintenanceQuery) (int64, error) {
	where, args := buildWhere(map[string]string{"outcome": q.Outcome})
	if q.Before != nil {
		if where == "" {
			where = " WHERE created_at < ?"
		} else {
			where += " AND created_at < ?"
		}
		args = append(args, q.Before.UTC())
	}

	res, err := w.db.ExecContext(ctx, w.rebind("DELETE FROM chat_requests"+where), args...)
	if err != nil {
		return 0, fmt.Errorf("delete request logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete request logs: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (w *SQLWriter) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}
