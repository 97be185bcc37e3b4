package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a running fuseai daemon over its HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8000",
		Timeout: 30 * time.Second,
	}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8000"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	var out map[string]string
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return err == nil
}

// ListAgents returns every agent the daemon knows about.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var out []Agent
	if err := c.do(ctx, http.MethodGet, "/api/agents", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAgent returns one agent by id.
func (c *Client) GetAgent(ctx context.Context, id string) (Agent, error) {
	var out Agent
	err := c.do(ctx, http.MethodGet, "/api/agents/"+url.PathEscape(id), nil, &out)
	return out, err
}

// CreateAgent asks the daemon to design, generate and deploy a new agent.
func (c *Client) CreateAgent(ctx context.Context, req CreateRequest) (Agent, error) {
	var out Agent
	err := c.do(ctx, http.MethodPost, "/api/agents", req, &out)
	return out, err
}

// DeployAgent starts or restarts an agent, optionally on an explicit port.
func (c *Client) DeployAgent(ctx context.Context, id string, port int) (Agent, error) {
	var body any
	if port > 0 {
		body = map[string]int{"port": port}
	}
	var out Agent
	err := c.do(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(id)+"/deploy", body, &out)
	return out, err
}

// StopAgent stops an agent. It is idempotent on the daemon side.
func (c *Client) StopAgent(ctx context.Context, id string) (Agent, error) {
	var out Agent
	err := c.do(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(id)+"/stop", nil, &out)
	return out, err
}

// TestAgent proxies a call through the daemon to the agent.
func (c *Client) TestAgent(ctx context.Context, id string, req TestRequest) (TestResult, error) {
	var out TestResult
	err := c.do(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(id)+"/test", req, &out)
	return out, err
}

// GetMetrics returns the aggregated call metrics for an agent.
func (c *Client) GetMetrics(ctx context.Context, id string) (Metrics, error) {
	var out Metrics
	err := c.do(ctx, http.MethodGet, "/api/agents/"+url.PathEscape(id)+"/metrics", nil, &out)
	return out, err
}

// GetLogs returns operator log entries for an agent, newest first.
func (c *Client) GetLogs(ctx context.Context, id, level string, limit int) ([]LogEntry, error) {
	q := url.Values{}
	if level != "" {
		q.Set("level", level)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/agents/" + url.PathEscape(id) + "/logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []LogEntry
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// DeleteAgent removes an agent and everything it owns.
func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/agents/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
