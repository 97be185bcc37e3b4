package fuseai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aircode610/fuseai/internal/agent"
	"github.com/aircode610/fuseai/internal/callstats"
	cfg "github.com/aircode610/fuseai/internal/config"
	"github.com/aircode610/fuseai/internal/generator"
	"github.com/aircode610/fuseai/internal/history"
	"github.com/aircode610/fuseai/internal/history/factory"
	"github.com/aircode610/fuseai/internal/logger"
	"github.com/aircode610/fuseai/internal/logstore"
	"github.com/aircode610/fuseai/internal/metrics"
	"github.com/aircode610/fuseai/internal/proxy"
	"github.com/aircode610/fuseai/internal/registry"
	"github.com/aircode610/fuseai/internal/server"
	"github.com/aircode610/fuseai/internal/supervisor"
)

// Re-export core types for external consumers.

type AgentRecord = agent.Record

type AgentStatus = agent.Status

type Config = cfg.Config

type HistorySink = history.Sink

type ProxyResult = proxy.Result

// LoadConfig reads a TOML config file and applies environment overrides.
func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// NewLogger builds the orchestrator's colored slog logger.
func NewLogger() *slog.Logger {
	return slog.New(logger.NewColorTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Orchestrator owns every component of the agent lifecycle: the registry,
// the supervisor with its readiness prober, the request proxy and the
// per-agent metrics and log stores.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	Registry *registry.Store
	Manager  *supervisor.Manager
	Prober   *supervisor.Prober
	Proxy    *proxy.Proxy
	Stats    *callstats.Recorder
	Logs     *logstore.Store

	srv *http.Server
}

// New wires an Orchestrator from config. History sinks are opened from the
// configured DSNs; a bad DSN fails construction rather than silently
// dropping audit events.
func New(c Config, log *slog.Logger) (*Orchestrator, error) {
	if log == nil {
		log = NewLogger()
	}

	var sinks []history.Sink
	for _, dsn := range c.HistoryDSNs {
		s, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("open history sink %q: %w", dsn, err)
		}
		sinks = append(sinks, s)
	}

	reg := registry.New(c.Root, c.BasePort, log)
	stats := callstats.NewRecorder(c.Root, log)
	logs := logstore.New(c.Root, log)

	logCfg := logger.Config{}
	if c.Log != nil {
		logCfg = *c.Log
	}
	mgr := supervisor.New(supervisor.Config{
		Root:      c.Root,
		Registry:  reg,
		Stats:     stats,
		Logs:      logs,
		LogConfig: logCfg,
		StopGrace: c.StopGrace(),
		Sinks:     sinks,
		Logger:    log,
	})
	prober := supervisor.NewProber(mgr, c.ProbeInterval(), 0)
	prox := proxy.New(mgr, stats, logs, c.RequestTimeout(), log)

	return &Orchestrator{
		cfg:      c,
		logger:   log,
		Registry: reg,
		Manager:  mgr,
		Prober:   prober,
		Proxy:    prox,
		Stats:    stats,
		Logs:     logs,
	}, nil
}

// Start redeploys persisted agents, starts the readiness prober and serves
// the HTTP API on the configured listen address.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.cfg.Metrics != nil && o.cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	var gen generator.Generator
	if len(o.cfg.GeneratorCommand) > 0 {
		g, err := generator.NewCommand(o.cfg.GeneratorCommand, o.cfg.Root)
		if err != nil {
			return err
		}
		gen = g
	}

	o.Manager.StartAll(ctx)
	o.Prober.Start()

	router := server.NewRouter(server.Options{
		Registry:  o.Registry,
		Manager:   o.Manager,
		Proxy:     o.Proxy,
		Stats:     o.Stats,
		Logs:      o.Logs,
		Generator: gen,
		Metrics:   o.cfg.Metrics != nil && o.cfg.Metrics.Enabled,
		Logger:    o.logger,
	})
	o.srv = server.NewServer(o.cfg.Listen, router)
	o.logger.Info("orchestrator started", "listen", o.cfg.Listen, "root", o.cfg.Root)
	return nil
}

// Shutdown stops the HTTP server, the prober and every live agent, then
// closes the history sinks.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	if o.srv != nil {
		_ = o.srv.Shutdown(ctx)
	}
	o.Prober.Stop()
	o.Manager.Shutdown(ctx)
	o.logger.Info("orchestrator stopped")
}

// RegisterMetrics registers the Prometheus collectors with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
