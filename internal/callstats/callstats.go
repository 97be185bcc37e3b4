// Package callstats keeps the per-agent record of proxied test calls and
// derives the aggregate numbers the operator UI charts. One JSON file per
// agent under <root>/metrics, append-only with FIFO eviction past the cap.
package callstats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aircode610/fuseai/internal/agent"
)

// MaxCalls is the retained call window per agent; the oldest entries are
// evicted first.
const MaxCalls = 1000

// RawWindow is how many of the most recent calls an aggregate carries for
// charting.
const RawWindow = 100

// Call is one proxied request outcome. Status 0 is the transport-failure
// sentinel; Success means the HTTP status was in [200,400).
type Call struct {
	Timestamp  string `json:"timestamp"`
	Status     int    `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
	Path       string `json:"path"`
}

type callFile struct {
	Calls     []Call `json:"calls"`
	CreatedAt string `json:"created_at"`
}

// DayCount is one bucket of the requests-over-time histogram.
type DayCount struct {
	Day   string `json:"day"`
	Value int    `json:"value"`
}

// Summary is the aggregate view over an agent's recorded calls.
type Summary struct {
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

// Recorder owns the per-agent call files. All file access is serialized by
// one mutex; callers never touch the files directly.
type Recorder struct {
	mu     sync.Mutex
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// NewRecorder creates a Recorder storing call files under root/metrics.
func NewRecorder(root string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{dir: filepath.Join(root, "metrics"), now: time.Now, logger: logger}
}

func (r *Recorder) path(agentID string) string {
	return filepath.Join(r.dir, agentID+".json")
}

func (r *Recorder) load(agentID string) callFile {
	empty := callFile{Calls: []Call{}, CreatedAt: agent.Timestamp(r.now())}
	b, err := os.ReadFile(r.path(agentID))
	if err != nil {
		return empty
	}
	var f callFile
	if err := json.Unmarshal(b, &f); err != nil {
		r.logger.Warn("call log corrupt, starting empty", "agent", agentID, "error", err)
		return empty
	}
	if f.Calls == nil {
		f.Calls = []Call{}
	}
	return f
}

func (r *Recorder) save(agentID string, f callFile) error {
	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode call log: %w", err)
	}
	return os.WriteFile(r.path(agentID), b, 0o600)
}

// Record appends one call outcome for the agent, evicting the oldest entries
// past MaxCalls.
func (r *Recorder) Record(agentID string, status int, durationMS int64, path string) error {
	if path == "" {
		path = "/"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.load(agentID)
	f.Calls = append(f.Calls, Call{
		Timestamp:  agent.Timestamp(r.now()),
		Status:     status,
		DurationMS: durationMS,
		Success:    status >= 200 && status < 400,
		Path:       path,
	})
	if len(f.Calls) > MaxCalls {
		f.Calls = f.Calls[len(f.Calls)-MaxCalls:]
	}
	return r.save(agentID, f)
}

// Aggregate derives the Summary for an agent. An agent with no recorded
// calls yields the zero aggregates (success rate 0, empty histogram), never
// an error.
func (r *Recorder) Aggregate(agentID string) Summary {
	r.mu.Lock()
	calls := r.load(agentID).Calls
	r.mu.Unlock()

	sum := Summary{
		TotalRequests:    len(calls),
		RequestsOverTime: []DayCount{},
		Calls:            []Call{},
	}
	durations := make([]int64, 0, len(calls))
	var durTotal int64
	for _, c := range calls {
		if c.Success {
			sum.Successful++
		}
		durations = append(durations, c.DurationMS)
		durTotal += c.DurationMS
	}
	sum.Failed = sum.TotalRequests - sum.Successful
	if sum.TotalRequests > 0 {
		rate := float64(sum.Successful) / float64(sum.TotalRequests)
		sum.SuccessRate = math.Round(rate*10000) / 10000
	}
	if n := len(durations); n > 0 {
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
		sum.AvgResponseTime = durTotal / int64(n)
		sum.MinResponseTime = durations[0]
		sum.MaxResponseTime = durations[n-1]
		idx := int(math.Ceil(0.95*float64(n))) - 1
		if idx < 0 {
			idx = 0
		}
		sum.P95ResponseTime = durations[idx]
	}
	sum.RequestsOverTime = requestsByDay(calls)
	if len(calls) > RawWindow {
		calls = calls[len(calls)-RawWindow:]
	}
	sum.Calls = calls
	return sum
}

// requestsByDay buckets calls per YYYY-MM-DD day and returns the most recent
// seven distinct days present, oldest first.
func requestsByDay(calls []Call) []DayCount {
	byDay := make(map[string]int)
	for _, c := range calls {
		if len(c.Timestamp) < 10 {
			continue
		}
		byDay[c.Timestamp[:10]]++
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	if len(days) > 7 {
		days = days[:7]
	}
	out := make([]DayCount, 0, len(days))
	for i := len(days) - 1; i >= 0; i-- {
		out = append(out, DayCount{Day: days[i], Value: byDay[days[i]]})
	}
	return out
}

// Delete removes the agent's call file, reporting whether one existed.
func (r *Recorder) Delete(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.Remove(r.path(agentID)); err != nil {
		return false
	}
	return true
}
