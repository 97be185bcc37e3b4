package client

// Agent is the API shape of one agent.
type Agent struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Prompt          string     `json:"prompt,omitempty"`
	Status          string     `json:"status"`
	TriggerType     string     `json:"triggerType,omitempty"`
	Services        []string   `json:"services,omitempty"`
	Endpoints       []Endpoint `json:"endpoints,omitempty"`
	TaskDescription string     `json:"task_description,omitempty"`
	Port            int        `json:"port,omitempty"`
	BaseURL         string     `json:"baseUrl,omitempty"`
	APIURL          string     `json:"apiUrl,omitempty"`
	CreatedAt       string     `json:"created_at,omitempty"`
}

// Endpoint is one HTTP route a generated agent exposes.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// CreateRequest asks the daemon to build a new agent from a prompt.
type CreateRequest struct {
	Prompt string `json:"prompt"`
	Name   string `json:"name,omitempty"`
}

// TestRequest proxies one call to a deployed agent.
type TestRequest struct {
	Method string            `json:"method,omitempty"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query,omitempty"`
	Body   any               `json:"body,omitempty"`
}

// TestResult is the structured outcome of a proxied call. Status 0 marks a
// transport failure; Duration is in milliseconds.
type TestResult struct {
	Status   int   `json:"status"`
	Duration int64 `json:"duration"`
	Body     any   `json:"body"`
}

// Metrics is the aggregated call summary for one agent.
type Metrics struct {
	TotalRequests    int        `json:"totalRequests"`
	Successful       int        `json:"successful"`
	Failed           int        `json:"failed"`
	SuccessRate      float64    `json:"successRate"`
	AvgResponseTime  int64      `json:"avgResponseTime"`
	MinResponseTime  int64      `json:"minResponseTime"`
	MaxResponseTime  int64      `json:"maxResponseTime"`
	P95ResponseTime  int64      `json:"p95ResponseTime"`
	RequestsOverTime []DayCount `json:"requestsOverTime"`
	Calls            []Call     `json:"calls"`
}

// DayCount is the number of completed calls on one day.
type DayCount struct {
	Day   string `json:"day"`
	Value int    `json:"value"`
}

// Call is one recorded proxied call.
type Call struct {
	Timestamp  string `json:"timestamp"`
	Status     int    `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
	Path       string `json:"path"`
}

// LogEntry is one operator log line for an agent.
type LogEntry struct {
	ID        int            `json:"id"`
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
