package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mcpforge.dev/cli/internal/core/descriptor"
)

// Command represents one process invocation: the executable, its argv tail,
// a working directory, and environment overrides. It is always built from a
// vector; there is no shell-string constructor.
type Command struct {
	executable string
	args       []string
	workingDir string
	env        map[string]string
}

// NewCommand creates a new Command value object
func NewCommand(executable string, args []string, workingDir string, env map[string]string) (Command, error) {
	if executable == "" {
		return Command{}, fmt.Errorf("executable cannot be empty")
	}

	if workingDir != "" && !filepath.IsAbs(workingDir) {
		if absDir, err := filepath.Abs(workingDir); err == nil {
			workingDir = absDir
		}
	}

	envCopy := make(map[string]string, len(env))
	for k, v := range env {
		envCopy[k] = v
	}

	return Command{
		executable: executable,
		args:       append([]string(nil), args...),
		workingDir: workingDir,
		env:        envCopy,
	}, nil
}

// FromLaunchSpec converts a launch spec into a runnable command.
func FromLaunchSpec(spec descriptor.LaunchSpec) (Command, error) {
	return NewCommand(spec.Command(), spec.Args(), spec.WorkingDir(), spec.Env())
}

// Executable returns the command executable
func (c Command) Executable() string {
	return c.executable
}

// Args returns a copy of the command arguments
func (c Command) Args() []string {
	return append([]string(nil), c.args...)
}

// WorkingDir returns the working directory for the command
func (c Command) WorkingDir() string {
	return c.workingDir
}

// Env returns a copy of the environment overrides
func (c Command) Env() map[string]string {
	envCopy := make(map[string]string, len(c.env))
	for k, v := range c.env {
		envCopy[k] = v
	}
	return envCopy
}

// WithEnv returns a new Command with additional environment variables
func (c Command) WithEnv(overrides map[string]string) Command {
	newEnv := c.Env()
	for k, v := range overrides {
		newEnv[k] = v
	}
	out := c
	out.env = newEnv
	out.args = append([]string(nil), c.args...)
	return out
}

// String returns a display form of the command. Environment values never
// appear in it.
func (c Command) String() string {
	if len(c.args) == 0 {
		return c.executable
	}
	return fmt.Sprintf("%s %s", c.executable, strings.Join(c.args, " "))
}

// IsValid validates the command structure
func (c Command) IsValid() error {
	if c.executable == "" {
		return fmt.Errorf("executable cannot be empty")
	}
	if c.workingDir != "" {
		if stat, err := os.Stat(c.workingDir); err != nil || !stat.IsDir() {
			return fmt.Errorf("working directory does not exist: %s", c.workingDir)
		}
	}
	return nil
}
