// Package receiptsd is the backend orchestration layer for the receipts
// dashboard: it launches the batch receipt-processing worker, multiplexes its
// output into live events plus an aggregate result, and tracks per-store
// unread failure/warning badges derived from the worker's run reports.
package receiptsd

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lifedash/receiptsd/internal/badge"
	"github.com/lifedash/receiptsd/internal/config"
	"github.com/lifedash/receiptsd/internal/events"
	"github.com/lifedash/receiptsd/internal/history"
	"github.com/lifedash/receiptsd/internal/inbox"
	"github.com/lifedash/receiptsd/internal/logger"
	"github.com/lifedash/receiptsd/internal/metrics"
	"github.com/lifedash/receiptsd/internal/report"
	"github.com/lifedash/receiptsd/internal/seenstate"
	"github.com/lifedash/receiptsd/internal/worker"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Config = config.Config

type Store = config.Store

type StreamEvent = worker.Event

type WorkerResult = worker.Result

type RunReport = report.RunReport

type UnreadBadge = badge.Unread

type InboxCount = inbox.Count

// LoadConfig reads the optional TOML config file and environment overrides.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// App wires the orchestration core together: worker launcher and stream
// multiplexer, run report index, seen-state store, unread tracker, event
// broker, metrics and the optional run history sink.
type App struct {
	cfg     *config.Config
	index   *report.Index
	seen    *seenstate.Store
	tracker *badge.Tracker
	broker  *events.Broker
	metrics *metrics.WorkerMetrics
	sink    history.Sink

	// at most one worker invocation runs at a time
	runMu sync.Mutex
}

// New builds an App from resolved configuration.
func New(cfg *Config) (*App, error) {
	a := &App{
		cfg:     cfg,
		index:   report.NewIndex(cfg.RunsDir()),
		seen:    seenstate.New(cfg.StatePath),
		broker:  events.NewBroker(),
		metrics: metrics.New(),
	}
	a.tracker = badge.NewTracker(a.index, a.seen)
	if cfg.HistoryDSN != "" {
		sink, err := history.NewFromDSN(cfg.HistoryDSN)
		if err != nil {
			return nil, err
		}
		a.sink = sink
	}
	return a, nil
}

// Close releases the history sink, if any.
func (a *App) Close() error {
	if a.sink != nil {
		return a.sink.Close()
	}
	return nil
}

// Config returns the resolved configuration.
func (a *App) Config() *Config { return a.cfg }

// Broker exposes the live event broker for the HTTP event stream.
func (a *App) Broker() *events.Broker { return a.broker }

// RegisterMetrics registers all worker collectors with reg.
func (a *App) RegisterMetrics(reg prometheus.Registerer) error {
	return a.metrics.Register(reg)
}

// RunWorker launches the worker for the given store selection and drives it
// to completion, blocking until both output streams are drained. Live events
// go to the broker and, when non-nil, to sub. mode is accepted from the UI
// but has no effect on behavior.
func (a *App) RunWorker(stores []string, mode string, sub worker.Subscriber) (WorkerResult, error) {
	_ = mode

	inv, err := worker.BuildInvocation(a.cfg, stores)
	if err != nil {
		return WorkerResult{}, err
	}

	a.runMu.Lock()
	defer a.runMu.Unlock()

	logCfg := logger.Config{
		Dir:        a.cfg.Log.Dir,
		MaxSizeMB:  a.cfg.Log.MaxSizeMB,
		MaxBackups: a.cfg.Log.MaxBackups,
		MaxAgeDays: a.cfg.Log.MaxAgeDays,
		Compress:   a.cfg.Log.Compress,
	}
	outLog, errLog := logCfg.Writers("worker")
	defer func() {
		if outLog != nil {
			_ = outLog.Close()
		}
		if errLog != nil {
			_ = errLog.Close()
		}
	}()

	var stdoutCount, stderrCount counter
	fanout := func(ev StreamEvent) {
		a.metrics.CountLine(ev.Stream)
		if ev.Stream == worker.StreamStdout {
			stdoutCount.inc()
		} else {
			stderrCount.inc()
		}
		a.broker.Publish("worker-log", ev)
		if sub != nil {
			sub(ev)
		}
	}

	var stopSampling func()
	opts := worker.Options{
		StdoutLog: outLog,
		StderrLog: errLog,
		OnStart: func(pid int) {
			slog.Info("worker started", "pid", pid, "args", inv.Args)
			stopSampling = a.metrics.StartSampling(pid)
		},
	}

	started := time.Now()
	res, err := worker.Runner{}.Run(inv, fanout, opts)
	if stopSampling != nil {
		stopSampling()
	}
	if err != nil {
		slog.Error("worker run failed to complete", "error", err)
		return WorkerResult{}, err
	}
	slog.Info("worker finished", "status", res.Status, "duration", time.Since(started))
	a.metrics.ObserveRun(res.Status, time.Since(started))
	a.recordHistory(started, stores, res, stdoutCount.get(), stderrCount.get())
	return res, nil
}

func (a *App) recordHistory(started time.Time, stores []string, res WorkerResult, outLines, errLines int) {
	if a.sink == nil {
		return
	}
	rec := history.RunRecord{
		StartedAt:   started,
		FinishedAt:  time.Now(),
		Stores:      stores,
		Status:      res.Status,
		ExitCode:    res.ExitCode,
		StdoutLines: outLines,
		StderrLines: errLines,
	}
	if err := a.sink.Record(context.Background(), rec); err != nil {
		slog.Warn("record run history", "error", err)
	}
}

// Badges computes the unread badge for every configured store.
func (a *App) Badges() []UnreadBadge {
	return a.tracker.Badges(a.cfg.Stores)
}

// MarkSeen acknowledges a store's current issues and persists the marker.
func (a *App) MarkSeen(storeID string) error {
	return a.tracker.MarkSeen(storeID)
}

// LastRuns returns the most recent run reports, newest first.
func (a *App) LastRuns(n int) []RunReport {
	return a.index.LatestN(n)
}

// InboxCounts counts pending receipt files per configured store.
func (a *App) InboxCounts() []InboxCount {
	return inbox.Counts(a.cfg)
}

// counter is a tiny atomic line counter shared with the reader goroutines.
type counter struct{ n atomic.Int64 }

func (c *counter) inc()     { c.n.Add(1) }
func (c *counter) get() int { return int(c.n.Load()) }
