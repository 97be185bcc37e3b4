package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aircode610/fuseai/internal/callstats"
	"github.com/aircode610/fuseai/internal/logstore"
	"github.com/aircode610/fuseai/internal/metrics"
)

// DefaultTimeout is the proxied-call timeout when no override is configured.
const DefaultTimeout = 300 * time.Second

// MinTimeout is the enforced floor for the configurable timeout.
const MinTimeout = 10 * time.Second

// ErrRefused is returned before any network I/O when the target agent has no
// live process or no assigned port.
var ErrRefused = errors.New("agent is not running")

// PortResolver reports the port of a live agent. The supervisor implements it.
type PortResolver interface {
	LivePort(id string) (int, bool)
}

// Result is the structured outcome of a proxied call. Status 0 is the
// sentinel for transport failures; Duration is in milliseconds.
type Result struct {
	Status   int   `json:"status"`
	Duration int64 `json:"duration"`
	Body     any   `json:"body"`
}

// Proxy forwards test calls to deployed agents and records every completed
// call in the recorder and the operator log. It never propagates a transport
// error to its caller; every path after the refusal check returns a Result.
type Proxy struct {
	ports  PortResolver
	stats  *callstats.Recorder
	logs   *logstore.Store
	client *http.Client
	logger *slog.Logger
}

func New(ports PortResolver, stats *callstats.Recorder, logs *logstore.Store, timeout time.Duration, logger *slog.Logger) *Proxy {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout < MinTimeout {
		timeout = MinTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		ports:  ports,
		stats:  stats,
		logs:   logs,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Call forwards method/path/query/body to the agent's port.
func (p *Proxy) Call(ctx context.Context, agentID, method, path string, query map[string]string, body any) (Result, error) {
	port, ok := p.ports.LivePort(agentID)
	if !ok {
		return Result{}, ErrRefused
	}

	if path == "" || !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := url.URL{
		Scheme: "http",
		Host:   "127.0.0.1:" + strconv.Itoa(port),
		Path:   path,
	}
	if len(query) > 0 {
		q := url.Values{}
		for k, v := range query {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	var reqBody io.Reader
	if body != nil && bodyMethod(method) {
		b, err := json.Marshal(body)
		if err != nil {
			return Result{}, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	elapsedMS := elapsed.Milliseconds()

	if err != nil {
		// Transport failure: connection refused, timeout, network error.
		p.record(agentID, 0, elapsedMS, path)
		p.logs.Error(agentID, "Request failed: "+err.Error(), map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		metrics.IncProxiedCall(agentID, "transport")
		metrics.ObserveCallDuration(agentID, elapsed.Seconds())
		return Result{Status: 0, Duration: elapsedMS, Body: map[string]any{"error": err.Error()}}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(resp.Body)
	out := decodeBody(raw)
	p.record(agentID, resp.StatusCode, elapsedMS, path)
	metrics.ObserveCallDuration(agentID, elapsed.Seconds())

	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("Request failed: HTTP %d — %s", resp.StatusCode, errorDetail(out))
		p.logs.Error(agentID, msg, map[string]any{
			"status": resp.StatusCode,
			"path":   path,
			"body":   out,
		})
		metrics.IncProxiedCall(agentID, "upstream_error")
	} else {
		p.logs.Info(agentID, fmt.Sprintf("Request %s %s completed", method, path), map[string]any{
			"status":      resp.StatusCode,
			"duration_ms": elapsedMS,
		})
		metrics.IncProxiedCall(agentID, "success")
	}

	return Result{Status: resp.StatusCode, Duration: elapsedMS, Body: out}, nil
}

func (p *Proxy) record(agentID string, status int, durationMS int64, path string) {
	if err := p.stats.Record(agentID, status, durationMS, path); err != nil {
		p.logger.Warn("failed to record call", "agent", agentID, "err", err)
	}
}

func bodyMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// decodeBody parses the upstream body as JSON, wrapping non-JSON payloads as
// {"raw": <text>}.
func decodeBody(raw []byte) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return v
}

// errorDetail extracts a human-readable detail from an upstream error body.
func errorDetail(body any) string {
	if m, ok := body.(map[string]any); ok {
		for _, key := range []string{"detail", "error"} {
			if s, ok := m[key].(string); ok {
				return s
			}
		}
	}
	return fmt.Sprintf("%v", body)
}
