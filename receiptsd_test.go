package receiptsd

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifedash/receiptsd/internal/config"
	"github.com/lifedash/receiptsd/internal/history"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	script := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(script,
		[]byte("#!/bin/sh\necho line-one\necho line-two\necho oops >&2\n"), 0o750))
	return &config.Config{
		ReceiptsRoot: root,
		WorkerRunCmd: script,
		StatePath:    filepath.Join(root, "state.json"),
		Stores:       config.DefaultStores(),
	}
}

func TestRunWorkerEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.HistoryDSN = filepath.Join(t.TempDir(), "history.db")

	app, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	require.NoError(t, app.RegisterMetrics(prometheus.NewRegistry()))

	// Live events reach broker subscribers while the run is active.
	ch, cancel := app.Broker().Subscribe()
	defer cancel()

	var mu sync.Mutex
	var got []StreamEvent
	res, err := app.RunWorker([]string{"lidl"}, "full", func(ev StreamEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, "line-one\nline-two\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	require.Len(t, got, 3)

	select {
	case msg := <-ch:
		assert.Contains(t, msg, "event: worker-log\n")
	case <-time.After(time.Second):
		t.Fatal("no broker event received")
	}

	// The run was recorded in the history sink.
	sink, err := history.NewSQLite(cfg.HistoryDSN)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	recs, err := sink.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "ok", recs[0].Status)
	assert.Equal(t, []string{"lidl"}, recs[0].Stores)
	assert.Equal(t, 2, recs[0].StdoutLines)
	assert.Equal(t, 1, recs[0].StderrLines)
}

func TestRunWorkerNoCommand(t *testing.T) {
	cfg := testConfig(t)
	cfg.WorkerRunCmd = ""
	app, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	_, err = app.RunWorker(nil, "", nil)
	require.Error(t, err)
}

func TestBadgeLifecycleThroughApp(t *testing.T) {
	cfg := testConfig(t)
	app, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	// Empty reports directory: everything reads as read.
	for _, b := range app.Badges() {
		assert.False(t, b.FailuresUnread)
		assert.False(t, b.WarningsUnread)
	}

	runsDir := cfg.RunsDir()
	require.NoError(t, os.MkdirAll(runsDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(runsDir, "a.summary.json"),
		[]byte(`{"run_id":"20240105T0000Z","stores":["lidl"],"failures":[],"warnings":["low-confidence"]}`), 0o600))

	badges := app.Badges()
	require.Len(t, badges, len(cfg.Stores))
	assert.True(t, badges[0].WarningsUnread)

	require.NoError(t, app.MarkSeen("lidl"))
	assert.False(t, app.Badges()[0].WarningsUnread)

	// State survives an app restart.
	app2, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = app2.Close() }()
	assert.False(t, app2.Badges()[0].WarningsUnread)
}

func TestLastRunsAndInboxThroughApp(t *testing.T) {
	cfg := testConfig(t)
	app, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	assert.Empty(t, app.LastRuns(5))

	inboxDir := cfg.InboxDir("lidl")
	require.NoError(t, os.MkdirAll(inboxDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(inboxDir, "bon.pdf"), nil, 0o600))
	counts := app.InboxCounts()
	require.NotEmpty(t, counts)
	assert.Equal(t, 1, counts[0].Count)
}
