package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yoyosuperman/procwatch/internal/event"
	"github.com/yoyosuperman/procwatch/internal/metrics"
	"github.com/yoyosuperman/procwatch/internal/supervisor"
)

// Router exposes read-only observation endpoints for one supervised
// instance:
//
//	GET {basePath}/status      descriptor snapshot + restart counter
//	GET {basePath}/logs?n=100  newest captured lines, oldest first
//	GET {basePath}/metrics     Prometheus exposition
//
// It only reads snapshots; process control stays with the owning
// procwatch process.
type Router struct {
	sup      *supervisor.Supervisor
	basePath string
}

func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/logs", r.handleLogs)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down via the returned http.Server.
func NewServer(addr, basePath string, sup *supervisor.Supervisor) *http.Server {
	r := NewRouter(sup, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type statusResp struct {
	supervisor.Descriptor
	Restarts int `json:"restarts"`
}

type logsResp struct {
	Lines []event.LogLine `json:"lines"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, statusResp{
		Descriptor: r.sup.Snapshot(),
		Restarts:   r.sup.Restarts(),
	})
}

const defaultLogLines = 100

func (r *Router) handleLogs(c *gin.Context) {
	n := defaultLogLines
	if q := c.Query("n"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v < 1 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "n must be a positive integer"})
			return
		}
		n = v
	}
	lines := r.sup.RecentLogs(n)
	if lines == nil {
		lines = []event.LogLine{}
	}
	writeJSON(c, http.StatusOK, logsResp{Lines: lines})
}
