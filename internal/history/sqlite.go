package history

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink writes run records to a SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at the DSN and ensures
// the schema. Accepted forms: "sqlite:///path/to.db", ":memory:", bare path.
func NewSQLite(dsn string) (*SQLiteSink, error) {
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteSink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS worker_runs(
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		stores TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER,
		stdout_lines INTEGER NOT NULL DEFAULT 0,
		stderr_lines INTEGER NOT NULL DEFAULT 0
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *SQLiteSink) Record(ctx context.Context, rec RunRecord) error {
	var code any
	if rec.ExitCode != nil {
		code = *rec.ExitCode
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_runs(started_at, finished_at, stores, status, exit_code, stdout_lines, stderr_lines)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		strings.Join(rec.Stores, ","),
		rec.Status, code, rec.StdoutLines, rec.StderrLines)
	return err
}

func (s *SQLiteSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Recent returns up to n records, newest first. Used by status commands and
// tests.
func (s *SQLiteSink) Recent(ctx context.Context, n int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT started_at, finished_at, stores, status, exit_code, stdout_lines, stderr_lines
		FROM worker_runs ORDER BY started_at DESC LIMIT ?;`, n)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var stores, started, finished string
		var code sql.NullInt64
		if err := rows.Scan(&started, &finished, &stores, &rec.Status, &code, &rec.StdoutLines, &rec.StderrLines); err != nil {
			return nil, err
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		if stores != "" {
			rec.Stores = strings.Split(stores, ",")
		}
		if code.Valid {
			c := int(code.Int64)
			rec.ExitCode = &c
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
