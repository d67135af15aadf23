package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Executor spawns and supervises child processes. It is the only place in
// the runtime that touches os/exec.
type Executor struct {
	env []string
}

// NewExecutor creates a new process executor inheriting the current
// environment.
func NewExecutor() *Executor {
	return &Executor{env: os.Environ()}
}

// RunResult captures the outcome of a short-lived invocation.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes a command to completion, capturing output. Used for install
// invocations; ctx carries the install timeout and kills the child when it
// expires.
func (e *Executor) Run(ctx context.Context, cmd Command) (RunResult, error) {
	execCmd := exec.CommandContext(ctx, cmd.Executable(), cmd.Args()...)
	if cmd.WorkingDir() != "" {
		execCmd.Dir = cmd.WorkingDir()
	}
	execCmd.Env = e.buildEnvironment(cmd.Env())

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	result := RunResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if exitError, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitError.ExitCode()
	} else if err != nil {
		result.ExitCode = -1
	}
	if err != nil && ctx.Err() != nil {
		return result, fmt.Errorf("command %q: %w", cmd.String(), ctx.Err())
	}
	if err != nil {
		return result, fmt.Errorf("command %q: %w", cmd.String(), err)
	}
	return result, nil
}

// Start launches a long-lived process with piped stdio and returns a handle.
// The caller owns the pipes and the process lifetime; ctx cancellation kills
// the child.
func (e *Executor) Start(ctx context.Context, cmd Command) (Process, error) {
	execCmd := exec.CommandContext(ctx, cmd.Executable(), cmd.Args()...)
	if cmd.WorkingDir() != "" {
		execCmd.Dir = cmd.WorkingDir()
	}
	execCmd.Env = e.buildEnvironment(cmd.Env())

	stdin, err := execCmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := execCmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := execCmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := execCmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	p := &processImpl{
		cmd:     execCmd,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		running: true,
		done:    make(chan struct{}),
	}
	go p.monitor()
	return p, nil
}

// buildEnvironment combines the inherited environment with command-specific
// overrides.
func (e *Executor) buildEnvironment(cmdEnv map[string]string) []string {
	env := append([]string(nil), e.env...)
	for key, value := range cmdEnv {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	return env
}

// processImpl implements the Process interface
type processImpl struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	mu       sync.RWMutex
	running  bool
	exitCode int
	done     chan struct{}
	waitErr  error
}

// PID returns the process ID
func (p *processImpl) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

func (p *processImpl) Stdin() io.WriteCloser { return p.stdin }
func (p *processImpl) Stdout() io.ReadCloser { return p.stdout }
func (p *processImpl) Stderr() io.ReadCloser { return p.stderr }

// Wait blocks until the process exits.
func (p *processImpl) Wait() error {
	<-p.done
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.waitErr
}

func (p *processImpl) Signal(signal ProcessSignal) error {
	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("process not running")
	}
	return p.cmd.Process.Signal(ConvertSignal(signal))
}

func (p *processImpl) Kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("process not running")
	}
	if p.stdin != nil {
		p.stdin.Close()
	}
	return p.cmd.Process.Kill()
}

func (p *processImpl) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *processImpl) ExitCode() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitCode
}

func (p *processImpl) monitor() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.running = false
	p.waitErr = err
	if exitError, ok := err.(*exec.ExitError); ok {
		p.exitCode = exitError.ExitCode()
	} else if err == nil {
		p.exitCode = 0
	} else {
		p.exitCode = -1
	}
	p.mu.Unlock()

	close(p.done)
}
