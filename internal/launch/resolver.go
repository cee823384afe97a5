// Package launch resolves the command, arguments, working directory, and
// environment for spawning an agent in a workspace.
package launch

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/pkg/types"
)

// Resolver builds launch specs from the configured agent definitions.
type Resolver struct {
	agents map[string]config.AgentConfig
}

func NewResolver(agents map[string]config.AgentConfig) *Resolver {
	return &Resolver{agents: agents}
}

// DefaultModel returns the configured default model for an agent, if any.
func (r *Resolver) DefaultModel(agent string) string {
	return r.agents[agent].DefaultModel
}

// Resolve produces the launch spec for one spawn. The merged environment
// layers, later entries overriding earlier ones: process environment, agent
// env from config, credential snapshot, terminal defaults.
func (r *Resolver) Resolve(agent, model, workingDir string, credentials map[string]string) (types.LaunchSpec, error) {
	ac, ok := r.agents[agent]
	if !ok {
		return types.LaunchSpec{}, fmt.Errorf("unknown agent: %s", agent)
	}
	if workingDir == "" {
		return types.LaunchSpec{}, fmt.Errorf("working directory is required")
	}
	st, err := os.Stat(workingDir)
	if err != nil {
		return types.LaunchSpec{}, fmt.Errorf("working directory: %w", err)
	}
	if !st.IsDir() {
		return types.LaunchSpec{}, fmt.Errorf("working directory is not a directory: %s", workingDir)
	}
	if model != "" && len(ac.Models) > 0 && !contains(ac.Models, model) {
		return types.LaunchSpec{}, fmt.Errorf("agent %s does not support model %s", agent, model)
	}

	args := buildArgs(agent, ac, model)

	env := mergeEnv(os.Environ(), ac.Env, credentials, map[string]string{
		// Agents render into a terminal view; force interactive color output.
		"FORCE_COLOR": "1",
		"TERM":        "xterm-256color",
	})

	return types.LaunchSpec{
		Command:    ac.Command,
		Args:       args,
		WorkingDir: workingDir,
		Env:        env,
	}, nil
}

// buildArgs applies the model flag and per-agent argument normalization.
// Known agent CLIs need different flags to run unattended.
func buildArgs(agent string, ac config.AgentConfig, model string) []string {
	args := append([]string(nil), ac.Args...)

	if model != "" && ac.ModelFlag != "" {
		args = append(args, ac.ModelFlag, model)
	}

	switch agent {
	case "claude":
		if !containsSubstring(args, "dangerously") {
			args = append(args, "--dangerously-skip-permissions")
		}
	case "codex":
		if len(args) == 0 {
			args = append(args, "exec", "--full-auto")
		}
	case "gemini":
		if !contains(args, "--yolo") && !contains(args, "-y") {
			args = append(args, "--yolo")
		}
	}
	return args
}

// mergeEnv flattens layered KEY=VALUE maps over a base environment. Later
// layers win on key collision; output order is deterministic.
func mergeEnv(base []string, layers ...map[string]string) []string {
	merged := make(map[string]string, len(base))
	var order []string
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}

	var added []string
	for _, layer := range layers {
		for k, v := range layer {
			if _, seen := merged[k]; !seen {
				added = append(added, k)
			}
			merged[k] = v
		}
	}
	// Layer maps iterate randomly; sort the appended keys for stable output.
	sort.Strings(added)
	order = append(order, added...)

	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+merged[k])
	}
	return out
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func containsSubstring(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
