package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aircode610/fuseai/internal/agent"
	"github.com/aircode610/fuseai/internal/callstats"
	"github.com/aircode610/fuseai/internal/generator"
	"github.com/aircode610/fuseai/internal/logstore"
	"github.com/aircode610/fuseai/internal/metrics"
	"github.com/aircode610/fuseai/internal/proxy"
	"github.com/aircode610/fuseai/internal/registry"
	"github.com/aircode610/fuseai/internal/supervisor"
)

// codeFiles is the allow-list for the code endpoint.
var codeFiles = []string{"main.py", "config.json", "README.md", "requirements.txt"}

// Router exposes the orchestrator HTTP API.
type Router struct {
	reg     *registry.Store
	mgr     *supervisor.Manager
	prox    *proxy.Proxy
	stats   *callstats.Recorder
	logs    *logstore.Store
	gen     generator.Generator
	metrics bool
	logger  *slog.Logger
}

type Options struct {
	Registry  *registry.Store
	Manager   *supervisor.Manager
	Proxy     *proxy.Proxy
	Stats     *callstats.Recorder
	Logs      *logstore.Store
	Generator generator.Generator
	Metrics   bool
	Logger    *slog.Logger
}

func NewRouter(o Options) *Router {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Router{
		reg:     o.Registry,
		mgr:     o.Manager,
		prox:    o.Proxy,
		stats:   o.Stats,
		logs:    o.Logs,
		gen:     o.Generator,
		metrics: o.Metrics,
		logger:  o.Logger,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	api := g.Group("/api")
	api.GET("/agents", r.handleList)
	api.POST("/agents", r.handleCreate)
	api.GET("/agents/:id", r.handleGet)
	api.POST("/agents/:id/deploy", r.handleDeploy)
	api.POST("/agents/:id/stop", r.handleStop)
	api.POST("/agents/:id/test", r.handleTest)
	api.GET("/agents/:id/code", r.handleCode)
	api.GET("/agents/:id/metrics", r.handleMetrics)
	api.GET("/agents/:id/logs", r.handleLogs)
	api.DELETE("/agents/:id", r.handleDelete)

	g.GET("/health", func(c *gin.Context) {
		writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
	})
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

// agentPayload is the frontend-facing shape of an agent record, with the
// live base URL derived from the port.
type agentPayload struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	Prompt          string           `json:"prompt,omitempty"`
	Status          agent.Status     `json:"status"`
	TriggerType     string           `json:"triggerType"`
	Services        []string         `json:"services"`
	Endpoints       []agent.Endpoint `json:"endpoints"`
	TaskDescription string           `json:"task_description,omitempty"`
	Port            int              `json:"port,omitempty"`
	BaseURL         string           `json:"baseUrl,omitempty"`
	APIURL          string           `json:"apiUrl,omitempty"`
	CreatedAt       string           `json:"created_at"`
}

// payload overlays live process state onto the stored record: a tracked live
// agent reports its live port and either `running` or `deploying` depending
// on readiness, while untracked agents keep their registry status.
func (r *Router) payload(rec agent.Record) agentPayload {
	status := rec.Status
	port := rec.Port
	if livePort, ok := r.mgr.LivePort(rec.ID); ok {
		port = livePort
		if r.mgr.IsReady(rec.ID) {
			status = agent.StatusRunning
		} else {
			status = agent.StatusDeploying
		}
	}
	p := agentPayload{
		ID:              rec.ID,
		Name:            rec.Name,
		Description:     rec.Description,
		Prompt:          rec.Prompt,
		Status:          status,
		TriggerType:     rec.TriggerType,
		Services:        rec.Services,
		Endpoints:       rec.Endpoints,
		TaskDescription: rec.TaskDescription,
		Port:            port,
		CreatedAt:       rec.CreatedAt,
	}
	if p.TriggerType == "" {
		p.TriggerType = "on_demand"
	}
	if p.Services == nil {
		p.Services = []string{}
	}
	if p.Endpoints == nil {
		p.Endpoints = []agent.Endpoint{}
	}
	if port > 0 {
		base := "http://localhost:" + strconv.Itoa(port)
		p.BaseURL = base
		p.APIURL = base
	}
	return p
}

// lookup validates the id and fetches its record, writing the error response
// itself when either step fails.
func (r *Router) lookup(c *gin.Context) (agent.Record, bool) {
	id := c.Param("id")
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid agent id"})
		return agent.Record{}, false
	}
	rec, ok := r.reg.Get(id)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "Agent not found"})
		return agent.Record{}, false
	}
	return rec, true
}

func (r *Router) handleList(c *gin.Context) {
	r.mgr.Reconcile()
	recs := r.reg.List()
	out := make([]agentPayload, 0, len(recs))
	for _, rec := range recs {
		out = append(out, r.payload(rec))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleGet(c *gin.Context) {
	r.mgr.Reconcile()
	rec, ok := r.lookup(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, r.payload(rec))
}

type createReq struct {
	Prompt string `json:"prompt"`
	Name   string `json:"name"`
}

func (r *Router) handleCreate(c *gin.Context) {
	var body createReq
	if err := c.ShouldBindJSON(&body); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if body.Prompt == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "prompt required"})
		return
	}
	if r.gen == nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "agent generation is not configured"})
		return
	}

	id := "agent_" + uuid.NewString()
	dir := r.mgr.AgentDir(id)
	bp, err := r.gen.Generate(c.Request.Context(), body.Prompt, id, dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}

	name := body.Name
	if name == "" {
		name = bp.SuggestedName
	}
	if name == "" {
		name = agent.DeriveName(bp.TaskDescription)
	}
	desc := bp.TaskDescription
	if len(desc) > 200 {
		desc = desc[:200]
	}
	services := bp.Services
	if len(services) == 0 {
		// The generated directory carries a tools manifest with the same
		// service list the designer produced.
		if m, err := agent.LoadManifest(dir); err == nil && m != nil {
			services = m.Services
		}
	}

	port, err := r.reg.ReservePort()
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	rec := agent.Record{
		ID:              id,
		Name:            name,
		Description:     desc,
		Prompt:          body.Prompt,
		Status:          agent.StatusCreated,
		TriggerType:     "on_demand",
		Services:        services,
		Endpoints:       bp.Endpoints,
		TaskDescription: bp.TaskDescription,
		Port:            port,
		CreatedAt:       agent.Timestamp(time.Now()),
	}
	if err := r.reg.Add(rec); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}

	if err := r.mgr.Deploy(c.Request.Context(), id, port); err != nil {
		r.logger.Warn("initial deploy failed", "agent", id, "err", err)
	}
	if cur, ok := r.reg.Get(id); ok {
		rec = cur
	}
	writeJSON(c, http.StatusOK, r.payload(rec))
}

type deployReq struct {
	Port int `json:"port"`
}

func (r *Router) handleDeploy(c *gin.Context) {
	rec, ok := r.lookup(c)
	if !ok {
		return
	}
	var body deployReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}
	if err := r.mgr.Deploy(c.Request.Context(), rec.ID, body.Port); err != nil {
		if errors.Is(err, supervisor.ErrNotFound) {
			writeJSON(c, http.StatusNotFound, errorResp{Error: "Agent not found"})
			return
		}
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	cur, _ := r.reg.Get(rec.ID)
	writeJSON(c, http.StatusOK, r.payload(cur))
}

func (r *Router) handleStop(c *gin.Context) {
	rec, ok := r.lookup(c)
	if !ok {
		return
	}
	if err := r.mgr.Stop(c.Request.Context(), rec.ID); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	cur, _ := r.reg.Get(rec.ID)
	writeJSON(c, http.StatusOK, r.payload(cur))
}

type testReq struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query"`
	Body   any               `json:"body"`
}

func (r *Router) handleTest(c *gin.Context) {
	rec, ok := r.lookup(c)
	if !ok {
		return
	}
	var body testReq
	if err := c.ShouldBindJSON(&body); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if body.Method == "" {
		body.Method = http.MethodGet
	}
	res, err := r.prox.Call(c.Request.Context(), rec.ID, body.Method, body.Path, body.Query, body.Body)
	if err != nil {
		if errors.Is(err, proxy.ErrRefused) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "Agent is not running. Deploy it first."})
			return
		}
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleCode(c *gin.Context) {
	rec, ok := r.lookup(c)
	if !ok {
		return
	}
	dir := r.mgr.AgentDir(rec.ID)
	name := c.Query("file")
	if name != "" {
		allowed := false
		for _, f := range codeFiles {
			if f == name {
				allowed = true
				break
			}
		}
		if !allowed {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: fmt.Sprintf("Invalid file. Allowed: %v", codeFiles)})
			return
		}
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			writeJSON(c, http.StatusNotFound, errorResp{Error: fmt.Sprintf("File %s not found", name)})
			return
		}
		writeJSON(c, http.StatusOK, gin.H{"file": name, "content": string(b)})
		return
	}

	files := map[string]string{}
	for _, f := range codeFiles {
		if b, err := os.ReadFile(filepath.Join(dir, f)); err == nil {
			files[f] = string(b)
		}
	}
	if len(files) == 0 {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "Agent code not found"})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"files": files, "code": files["main.py"]})
}

func (r *Router) handleMetrics(c *gin.Context) {
	rec, ok := r.lookup(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, r.stats.Aggregate(rec.ID))
}

func (r *Router) handleLogs(c *gin.Context) {
	rec, ok := r.lookup(c)
	if !ok {
		return
	}
	level := c.Query("level")
	limit := logstore.DefaultLimit
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(c, http.StatusOK, r.logs.Read(rec.ID, level, limit))
}

func (r *Router) handleDelete(c *gin.Context) {
	id := c.Param("id")
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid agent id"})
		return
	}
	if err := r.mgr.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, supervisor.ErrNotFound) {
			writeJSON(c, http.StatusNotFound, errorResp{Error: "Agent not found"})
			return
		}
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Agent removed"})
}
