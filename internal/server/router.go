// Package server exposes the orchestration core to the desktop shell over
// HTTP. Endpoints (relative to the configured base path):
//
//	POST /run      body: {"stores": [...], "mode": "..."} -> WorkerResult
//	GET  /badges   -> per-store unread badges
//	POST /seen     body: {"store_id": "..."} -> acknowledge a store
//	GET  /runs     query: limit=N (default 5) -> most recent run reports
//	GET  /inbox    -> pending receipt counts per store
//	GET  /config   -> resolved app configuration
//	GET  /events   -> SSE stream of live worker output
//	GET  /healthz
//
// /metrics is served at the root, outside the base path.
package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lifedash/receiptsd"
	"github.com/lifedash/receiptsd/internal/worker"
)

const defaultRunLimit = 5

// Router provides embeddable HTTP handlers over an App.
type Router struct {
	app      *receiptsd.App
	basePath string
	registry *prometheus.Registry
}

// NewRouter constructs a Router with a configurable basePath, e.g. "/api".
func NewRouter(app *receiptsd.App, basePath string) (*Router, error) {
	r := &Router{
		app:      app,
		basePath: sanitizeBase(basePath),
		registry: prometheus.NewRegistry(),
	}
	if err := app.RegisterMetrics(r.registry); err != nil {
		return nil, err
	}
	return r, nil
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/run", r.handleRun)
	group.GET("/badges", r.handleBadges)
	group.POST("/seen", r.handleSeen)
	group.GET("/runs", r.handleRuns)
	group.GET("/inbox", r.handleInbox)
	group.GET("/config", r.handleConfig)
	group.GET("/events", r.handleEvents)
	group.GET("/healthz", r.handleHealthz)
	g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, app *receiptsd.App) (*http.Server, error) {
	r, err := NewRouter(app, basePath)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: /run blocks for the full worker run and
		// /events streams indefinitely.
		IdleTimeout: 60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type runReq struct {
	Stores []string `json:"stores"`
	Mode   string   `json:"mode"`
}

func (r *Router) handleRun(c *gin.Context) {
	var req runReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	res, err := r.app.RunWorker(req.Stores, req.Mode, nil)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, worker.ErrNoWorkerCommand) {
			status = http.StatusBadRequest
		}
		writeJSON(c, status, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleBadges(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.app.Badges())
}

type seenReq struct {
	StoreID string `json:"store_id"`
}

func (r *Router) handleSeen(c *gin.Context) {
	var req seenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.StoreID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "store_id required"})
		return
	}
	if err := r.app.MarkSeen(req.StoreID); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRuns(c *gin.Context) {
	limit := defaultRunLimit
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid limit"})
			return
		}
		limit = n
	}
	if limit == 0 {
		// An explicit zero means zero results, not "everything".
		writeJSON(c, http.StatusOK, []receiptsd.RunReport{})
		return
	}
	writeJSON(c, http.StatusOK, r.app.LastRuns(limit))
}

func (r *Router) handleInbox(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.app.InboxCounts())
}

func (r *Router) handleConfig(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.app.Config())
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// handleEvents streams live worker output as server-sent events until the
// client disconnects.
func (r *Router) handleEvents(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ch, cancel := r.app.Broker().Subscribe()
	defer cancel()

	_, _ = io.WriteString(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = io.WriteString(c.Writer, msg)
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}
