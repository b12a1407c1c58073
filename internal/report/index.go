// Package report indexes the run summary files the receipts worker leaves
// behind in <receipts root>/_logs/runs. The directory is append-only and
// partially untrusted: files that do not match the naming convention or do
// not parse are skipped without failing the index.
package report

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const summarySuffix = ".summary.json"

// RunReport is one worker-produced record of a completed processing run.
// Run identifiers are fixed-width sortable timestamps: lexicographic order on
// RunID equals chronological order. Only the presence of failures/warnings
// matters to badge derivation; their contents ride along for the UI.
type RunReport struct {
	RunID    string            `json:"run_id"`
	Stores   []string          `json:"stores"`
	Failures []json.RawMessage `json:"failures"`
	Warnings []json.RawMessage `json:"warnings"`
}

// HasFailures reports whether the run recorded at least one failure.
func (r RunReport) HasFailures() bool { return len(r.Failures) > 0 }

// HasWarnings reports whether the run recorded at least one warning.
func (r RunReport) HasWarnings() bool { return len(r.Warnings) > 0 }

// Entry pairs a parsed report with its file's modification time, which orders
// the "most recent runs" listing.
type Entry struct {
	Report  RunReport
	ModTime time.Time
	Path    string
}

// Index reads run summaries from a single directory.
type Index struct {
	dir string
}

// NewIndex returns an index over the given runs directory. The directory does
// not need to exist; a missing directory reads as empty.
func NewIndex(dir string) *Index { return &Index{dir: dir} }

// Entries parses every *.summary.json file in the runs directory. Files that
// cannot be read, parsed, or stat'ed are dropped. A missing directory yields
// an empty slice.
func (ix *Index) Entries() []Entry {
	des, err := os.ReadDir(ix.dir)
	if err != nil {
		return nil
	}
	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		if de.IsDir() || !strings.HasSuffix(de.Name(), summarySuffix) {
			continue
		}
		path := filepath.Join(ix.dir, de.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rep RunReport
		if err := json.Unmarshal(raw, &rep); err != nil {
			slog.Debug("skipping unparseable run summary", "path", path, "error", err)
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Without a modification time the entry cannot be ordered;
			// drop it rather than guess.
			continue
		}
		entries = append(entries, Entry{Report: rep, ModTime: info.ModTime(), Path: path})
	}
	return entries
}

// Reports returns all parsed reports without ordering guarantees.
func (ix *Index) Reports() []RunReport {
	entries := ix.Entries()
	out := make([]RunReport, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Report)
	}
	return out
}

// LatestN returns up to n reports ordered by file modification time,
// newest first. n <= 0 means all.
func (ix *Index) LatestN(n int) []RunReport {
	entries := ix.Entries()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.After(entries[j].ModTime)
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	out := make([]RunReport, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Report)
	}
	return out
}
