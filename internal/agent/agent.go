package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Status is the lifecycle state of an agent as persisted in the registry.
// Transitions: created -> deploying -> running -> stopped, with
// deploying -> stopped on launch or readiness failure and
// stopped -> deploying on explicit redeploy.
type Status string

const (
	StatusCreated   Status = "created"
	StatusDeploying Status = "deploying"
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
)

// EntrypointName is the launch contract: every deployable agent directory
// must contain this executable script.
const EntrypointName = "run.sh"

// ManifestName is the per-agent file describing the external capabilities the
// generated program was built to consume.
const ManifestName = "tools_manifest.json"

// Endpoint describes one HTTP route the generated agent exposes.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// Record is the durable registry entry for one agent.
type Record struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Prompt          string     `json:"prompt,omitempty"`
	Status          Status     `json:"status"`
	TriggerType     string     `json:"triggerType,omitempty"`
	Services        []string   `json:"services,omitempty"`
	Endpoints       []Endpoint `json:"endpoints,omitempty"`
	TaskDescription string     `json:"task_description,omitempty"`
	Port            int        `json:"port,omitempty"`
	CreatedAt       string     `json:"created_at"`
}

// Timestamp formats t the way agent records persist times.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// Manifest lists the external tools and services a generated agent consumes.
type Manifest struct {
	ToolNames []string `json:"tool_names,omitempty"`
	Services  []string `json:"services,omitempty"`
}

// LoadManifest reads the manifest from an agent directory. A missing file is
// not an error; the agent simply consumes no external tools.
func LoadManifest(dir string) (*Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// HasEntrypoint reports whether dir contains the launch entrypoint.
func HasEntrypoint(dir string) bool {
	fi, err := os.Stat(filepath.Join(dir, EntrypointName))
	return err == nil && fi.Mode().IsRegular()
}

// DeriveName produces a display name from a task description: the first
// line, with a leading "task:" prefix stripped, capped at 80 characters.
func DeriveName(taskDescription string) string {
	line := taskDescription
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if lower := strings.ToLower(line); strings.HasPrefix(lower, "task:") {
		line = strings.TrimSpace(line[len("task:"):])
	}
	if len(line) > 80 {
		line = strings.TrimSpace(line[:80])
	}
	if line == "" {
		return "Generated Agent"
	}
	return line
}
