package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	agentDeploys = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuseai",
			Subsystem: "agent",
			Name:      "deploys_total",
			Help:      "Number of successful agent deploys.",
		}, []string{"agent"},
	)
	agentStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuseai",
			Subsystem: "agent",
			Name:      "stops_total",
			Help:      "Number of agent stops (graceful or kill).",
		}, []string{"agent"},
	)
	proxiedCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuseai",
			Subsystem: "proxy",
			Name:      "calls_total",
			Help:      "Number of calls proxied to agents, by outcome.",
		}, []string{"agent", "outcome"},
	)
	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fuseai",
			Subsystem: "proxy",
			Name:      "call_duration_seconds",
			Help:      "Round-trip duration of proxied agent calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent"},
	)
	runningAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fuseai",
			Subsystem: "agent",
			Name:      "running",
			Help:      "Current number of agents with a live process.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{agentDeploys, agentStops, proxiedCalls, callDuration, runningAgents}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncDeploy(agent string) {
	if regOK.Load() {
		agentDeploys.WithLabelValues(agent).Inc()
	}
}

func IncStop(agent string) {
	if regOK.Load() {
		agentStops.WithLabelValues(agent).Inc()
	}
}

func IncProxiedCall(agent, outcome string) {
	if regOK.Load() {
		proxiedCalls.WithLabelValues(agent, outcome).Inc()
	}
}

func ObserveCallDuration(agent string, seconds float64) {
	if regOK.Load() {
		callDuration.WithLabelValues(agent).Observe(seconds)
	}
}

func SetRunningAgents(n int) {
	if regOK.Load() {
		runningAgents.Set(float64(n))
	}
}
