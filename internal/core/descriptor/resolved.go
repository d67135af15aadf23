package descriptor

import (
	"fmt"
	"strings"
	"time"
)

// ResolvedPackage is the sanitized, plugin-parsed form of an install method.
// Every field has passed the security validator; none may contain shell
// metacharacters, traversal sequences, or null bytes.
type ResolvedPackage struct {
	Ecosystem Ecosystem
	Name      string
	Version   string
	ExtraArgs []string
}

// CacheKey addresses a cached install of this package. Two resolved packages
// share a cache entry exactly when their keys are equal.
func (r ResolvedPackage) CacheKey() string {
	version := r.Version
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("%s|%s|%s", r.Ecosystem, r.Name, version)
}

// Spec is the human-readable name@version form.
func (r ResolvedPackage) Spec() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "@" + r.Version
}

// LaunchSpec is everything needed to start a cached package's executable.
// Args and Env are defensively copied on access so a spec handed to the
// execution engine cannot be mutated behind its back.
type LaunchSpec struct {
	command    string
	args       []string
	workingDir string
	env        map[string]string
}

// NewLaunchSpec builds a LaunchSpec from an executable path and argv tail.
func NewLaunchSpec(command string, args []string, workingDir string, env map[string]string) (LaunchSpec, error) {
	if command == "" {
		return LaunchSpec{}, fmt.Errorf("launch spec command cannot be empty")
	}
	envCopy := make(map[string]string, len(env))
	for k, v := range env {
		envCopy[k] = v
	}
	return LaunchSpec{
		command:    command,
		args:       append([]string(nil), args...),
		workingDir: workingDir,
		env:        envCopy,
	}, nil
}

// Command returns the executable to spawn.
func (s LaunchSpec) Command() string { return s.command }

// Args returns a copy of the argument vector.
func (s LaunchSpec) Args() []string { return append([]string(nil), s.args...) }

// WorkingDir returns the working directory for the process, or "" for the
// caller's.
func (s LaunchSpec) WorkingDir() string { return s.workingDir }

// Env returns a copy of the environment overrides injected at spawn time.
func (s LaunchSpec) Env() map[string]string {
	envCopy := make(map[string]string, len(s.env))
	for k, v := range s.env {
		envCopy[k] = v
	}
	return envCopy
}

// WithEnv returns a copy of the spec with the given overrides merged in.
// Runtime credentials are injected here, at spawn time, never at install
// time.
func (s LaunchSpec) WithEnv(overrides map[string]string) LaunchSpec {
	merged := s.Env()
	for k, v := range overrides {
		merged[k] = v
	}
	out := s
	out.env = merged
	return out
}

// String renders the spec as a single display line. Display only; spawning
// always uses the argv vector.
func (s LaunchSpec) String() string {
	if len(s.args) == 0 {
		return s.command
	}
	return s.command + " " + strings.Join(s.args, " ")
}

// ToolInfo summarizes one capability advertised by a running package.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ExecutionResult is the structured outcome handed to the CLI or the
// registry bridge after an execute attempt.
type ExecutionResult struct {
	Success         bool          `json:"success"`
	Command         string        `json:"command,omitempty"`
	Output          string        `json:"output,omitempty"`
	Error           string        `json:"error,omitempty"`
	AuthRequired    bool          `json:"auth_required"`
	AuthType        string        `json:"auth_type,omitempty"`
	Instructions    []string      `json:"instructions,omitempty"`
	CachePath       string        `json:"cache_path,omitempty"`
	Tools           []ToolInfo    `json:"tools,omitempty"`
	Resources       []string      `json:"resources,omitempty"`
	Prompts         []string      `json:"prompts,omitempty"`
	ProtocolVersion string        `json:"protocol_version,omitempty"`
	ServerName      string        `json:"server_name,omitempty"`
	Duration        time.Duration `json:"duration_ns,omitempty"`
}
