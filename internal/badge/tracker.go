// Package badge derives per-store unread notification state by comparing the
// newest issue-carrying run identifiers against the durable seen-state.
package badge

import (
	"sync"

	"github.com/lifedash/receiptsd/internal/config"
	"github.com/lifedash/receiptsd/internal/report"
	"github.com/lifedash/receiptsd/internal/seenstate"
)

// IssueCursor holds, per store, the most recent run identifier that carried a
// failure and the most recent that carried a warning. A run contributes to
// one, both, or neither.
type IssueCursor struct {
	Failure *string
	Warning *string
}

// Unread is the derived badge for one store.
type Unread struct {
	StoreID          string  `json:"store_id"`
	WarningsUnread   bool    `json:"warnings_unread"`
	FailuresUnread   bool    `json:"failures_unread"`
	LastWarningRunID *string `json:"last_warning_run_id"`
	LastFailureRunID *string `json:"last_failure_run_id"`
}

// LatestIssueRuns folds the full report set into one IssueCursor per store.
// For each store named by a report, the failure cursor advances to the
// lexicographically greatest run_id among reports with a non-empty failures
// list, and likewise for warnings. Run identifiers sort chronologically by
// construction, so string comparison is chronological comparison.
func LatestIssueRuns(reports []report.RunReport) map[string]IssueCursor {
	m := make(map[string]IssueCursor)
	for _, rep := range reports {
		if rep.RunID == "" {
			continue
		}
		hasFailures := rep.HasFailures()
		hasWarnings := rep.HasWarnings()
		for _, store := range rep.Stores {
			cur := m[store]
			if hasFailures && (cur.Failure == nil || rep.RunID > *cur.Failure) {
				id := rep.RunID
				cur.Failure = &id
			}
			if hasWarnings && (cur.Warning == nil || rep.RunID > *cur.Warning) {
				id := rep.RunID
				cur.Warning = &id
			}
			m[store] = cur
		}
	}
	return m
}

// Tracker composes the run report index with the seen-state store.
type Tracker struct {
	index *report.Index
	seen  *seenstate.Store

	// serializes concurrent MarkSeen recompute-then-persist sequences
	mu sync.Mutex
}

// NewTracker builds a tracker over the given index and seen-state store.
func NewTracker(index *report.Index, seen *seenstate.Store) *Tracker {
	return &Tracker{index: index, seen: seen}
}

// Badges computes the unread badge for every given store, in the given order.
// It reads but never mutates the seen-state.
func (t *Tracker) Badges(stores []config.Store) []Unread {
	latest := LatestIssueRuns(t.index.Reports())
	out := make([]Unread, 0, len(stores))
	for _, st := range stores {
		cur := latest[st.ID]
		seen, _ := t.seen.Get(st.ID)
		out = append(out, Unread{
			StoreID:          st.ID,
			FailuresUnread:   unread(cur.Failure, seen.LastSeenFailureRunID),
			WarningsUnread:   unread(cur.Warning, seen.LastSeenWarningRunID),
			LastFailureRunID: cur.Failure,
			LastWarningRunID: cur.Warning,
		})
	}
	return out
}

// unread is true iff a latest issue run exists and either nothing was ever
// acknowledged or the latest run sorts strictly after the acknowledged one.
func unread(latest, seen *string) bool {
	if latest == nil {
		return false
	}
	return seen == nil || *latest > *seen
}

// MarkSeen recomputes the store's current issue cursor and overwrites its
// seen entry with exactly those values, persisting the mapping. When the
// store has no issues at all this clears any previous acknowledgment to
// absent - intentional "nothing pending" state, not a no-op.
func (t *Tracker) MarkSeen(storeID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := LatestIssueRuns(t.index.Reports())[storeID]
	return t.seen.Set(storeID, seenstate.StoreSeen{
		LastSeenFailureRunID: cur.Failure,
		LastSeenWarningRunID: cur.Warning,
	})
}
