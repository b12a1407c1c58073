package history

import (
	"context"
	"errors"
	"strings"
	"time"
)

// RunRecord is the audit row written after every completed worker run.
type RunRecord struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Stores      []string  `json:"stores"`
	Status      string    `json:"status"`
	ExitCode    *int      `json:"exit_code"`
	StdoutLines int       `json:"stdout_lines"`
	StderrLines int       `json:"stderr_lines"`
}

// Sink is a destination for run records. Implementations must be safe for
// concurrent use.
type Sink interface {
	Record(ctx context.Context, rec RunRecord) error
	Close() error
}

// NewFromDSN selects a sink implementation based on DSN.
// Supported:
//   - sqlite: "sqlite:///<path>", ":memory:", or a bare filepath
func NewFromDSN(dsn string) (Sink, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty history DSN")
	}
	return NewSQLite(d)
}
