package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/aircode610/fuseai/internal/agent"
)

// Blueprint is what the design/codegen pipeline reports back after
// populating an agent directory. Everything except the populated directory
// itself is advisory; the orchestrator validates only entrypoint presence.
type Blueprint struct {
	SuggestedName   string           `json:"suggested_agent_name,omitempty"`
	TaskDescription string           `json:"task_description,omitempty"`
	Services        []string         `json:"services,omitempty"`
	Endpoints       []agent.Endpoint `json:"endpoints,omitempty"`
}

// Generator is the external design/codegen collaborator. Generate must leave
// a launchable program in dir; the orchestrator never interprets its
// contents.
type Generator interface {
	Generate(ctx context.Context, prompt, agentID, dir string) (*Blueprint, error)
}

// CommandGenerator shells out to a configured pipeline command. The prompt
// arrives on stdin; the agent id, target directory and orchestrator root are
// injected through the environment. The command must populate the directory
// and print a Blueprint as JSON on stdout.
type CommandGenerator struct {
	Command []string
	Root    string
}

func NewCommand(command []string, root string) (*CommandGenerator, error) {
	if len(command) == 0 {
		return nil, errors.New("empty generator command")
	}
	return &CommandGenerator{Command: command, Root: root}, nil
}

func (g *CommandGenerator) Generate(ctx context.Context, prompt, agentID, dir string) (*Blueprint, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create agent dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, g.Command[0], g.Command[1:]...)
	cmd.Dir = g.Root
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Env = append(os.Environ(),
		"FUSEAI_AGENT_ID="+agentID,
		"FUSEAI_AGENT_DIR="+dir,
		"FUSEAI_ROOT="+g.Root,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("generator pipeline: %s: %w", msg, err)
		}
		return nil, fmt.Errorf("generator pipeline: %w", err)
	}

	var bp Blueprint
	if out := bytes.TrimSpace(stdout.Bytes()); len(out) > 0 {
		if err := json.Unmarshal(out, &bp); err != nil {
			return nil, fmt.Errorf("decode generator blueprint: %w", err)
		}
	}

	if !agent.HasEntrypoint(dir) {
		return nil, fmt.Errorf("generator produced no %s in %s", agent.EntrypointName, dir)
	}
	return &bp, nil
}
