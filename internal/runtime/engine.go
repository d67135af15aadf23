package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mcpforge.dev/cli/internal/core/descriptor"
	"mcpforge.dev/cli/internal/logging"
	"mcpforge.dev/cli/internal/process"
)

// Starter launches a server process from a command. Satisfied by
// process.Executor.
type Starter interface {
	Start(ctx context.Context, cmd process.Command) (process.Process, error)
}

// Options tune session lifecycle enforcement.
type Options struct {
	// HandshakeTimeout bounds spawn plus initialize.
	HandshakeTimeout time.Duration
	// IdleTimeout closes sessions with no traffic for this long.
	IdleTimeout time.Duration
	// MaxLifetime closes sessions regardless of activity after this long.
	MaxLifetime time.Duration
	// ReapInterval is how often expired sessions are collected.
	ReapInterval time.Duration
	// CloseGrace is how long a closing server gets between SIGTERM and
	// SIGKILL.
	CloseGrace time.Duration
}

func (o *Options) applyDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 30 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 10 * time.Minute
	}
	if o.MaxLifetime <= 0 {
		o.MaxLifetime = 2 * time.Hour
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = 30 * time.Second
	}
	if o.CloseGrace <= 0 {
		o.CloseGrace = 3 * time.Second
	}
}

// SessionInfo is a point-in-time snapshot of one session for listings.
type SessionInfo struct {
	ID           string       `json:"id"`
	Slug         string       `json:"slug"`
	State        SessionState `json:"state"`
	ServerName   string       `json:"server_name,omitempty"`
	Protocol     string       `json:"protocol,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActivity time.Time    `json:"last_activity"`
}

// Engine owns every live session. It spawns servers, runs the handshake,
// hands out sessions by id, and reaps the ones that exceed their idle or
// lifetime budgets.
type Engine struct {
	starter Starter
	logger  logging.Logger
	opts    Options

	mu       sync.RWMutex
	sessions map[string]*Session
	shutdown bool

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// NewEngine creates an engine and starts its reaper.
func NewEngine(starter Starter, logger logging.Logger, opts Options) *Engine {
	opts.applyDefaults()
	e := &Engine{
		starter:    starter,
		logger:     logger,
		opts:       opts,
		sessions:   make(map[string]*Session),
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	go e.reapLoop()
	return e
}

// CreateSession spawns the server described by spec, completes the MCP
// handshake, and registers the session. On handshake failure the process is
// torn down and the session's stderr tail rides back in the error for auth
// diagnosis.
func (e *Engine) CreateSession(ctx context.Context, slug string, spec descriptor.LaunchSpec) (*Session, error) {
	e.mu.RLock()
	down := e.shutdown
	e.mu.RUnlock()
	if down {
		return nil, ErrEngineShutdown
	}

	cmd, err := process.FromLaunchSpec(spec)
	if err != nil {
		return nil, err
	}

	handshakeCtx, cancel := context.WithTimeout(ctx, e.opts.HandshakeTimeout)
	defer cancel()

	proc, err := e.starter.Start(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	session := newSession(slug, proc, e.logger, e.handleExit)
	if err := session.initialize(handshakeCtx); err != nil {
		tail := session.StderrTail()
		_ = session.Close(e.opts.CloseGrace)
		return nil, &HandshakeError{Slug: slug, StderrTail: tail, Err: err}
	}

	e.mu.Lock()
	e.sessions[session.ID()] = session
	e.mu.Unlock()

	// The server may die between the handshake and registration; a session
	// that is already closed must not stay listed.
	if session.State() == SessionClosed {
		e.handleExit(session)
		return nil, fmt.Errorf("server %s exited after handshake", slug)
	}

	e.logger.Log(logging.LevelInfo, "session established", map[string]interface{}{
		"session": session.ID(),
		"slug":    slug,
		"server":  session.ServerName(),
	})
	return session, nil
}

// HandshakeError reports a server that started but never completed the MCP
// handshake.
type HandshakeError struct {
	Slug       string
	StderrTail string
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("server %s did not complete handshake: %v", e.Slug, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// handleExit deregisters a session whose server process exited on its own.
// Sessions closed through CloseSession or the reaper are already gone from
// the map, so this is a no-op for them.
func (e *Engine) handleExit(s *Session) {
	e.mu.Lock()
	_, registered := e.sessions[s.ID()]
	if registered {
		delete(e.sessions, s.ID())
	}
	e.mu.Unlock()

	if registered {
		e.logger.Log(logging.LevelWarn, "deregistered dead session", map[string]interface{}{
			"session": s.ID(),
			"slug":    s.Slug(),
		})
	}
}

// Get returns a live session by id.
func (e *Engine) Get(id string) (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	session, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return session, nil
}

// List snapshots every registered session.
func (e *Engine) List() []SessionInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	infos := make([]SessionInfo, 0, len(e.sessions))
	for _, s := range e.sessions {
		infos = append(infos, SessionInfo{
			ID:           s.ID(),
			Slug:         s.Slug(),
			State:        s.State(),
			ServerName:   s.ServerName(),
			Protocol:     s.Protocol(),
			CreatedAt:    s.CreatedAt(),
			LastActivity: s.LastActivity(),
		})
	}
	return infos
}

// CloseSession closes and deregisters one session.
func (e *Engine) CloseSession(id string) error {
	e.mu.Lock()
	session, ok := e.sessions[id]
	if ok {
		delete(e.sessions, id)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return session.Close(e.opts.CloseGrace)
}

// Shutdown closes every session and stops the reaper. New sessions are
// refused afterwards.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil
	}
	e.shutdown = true
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.sessions = make(map[string]*Session)
	e.mu.Unlock()

	close(e.reaperStop)

	done := make(chan struct{})
	go func() {
		for _, s := range sessions {
			_ = s.Close(e.opts.CloseGrace)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-e.reaperDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (e *Engine) reapLoop() {
	defer close(e.reaperDone)
	ticker := time.NewTicker(e.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.reapExpired()
		case <-e.reaperStop:
			return
		}
	}
}

// reapExpired closes sessions past their idle or lifetime budget.
func (e *Engine) reapExpired() {
	now := time.Now()

	e.mu.Lock()
	var expired []*Session
	for id, s := range e.sessions {
		idle := now.Sub(s.LastActivity()) > e.opts.IdleTimeout
		aged := now.Sub(s.CreatedAt()) > e.opts.MaxLifetime
		if idle || aged {
			expired = append(expired, s)
			delete(e.sessions, id)
		}
	}
	e.mu.Unlock()

	for _, s := range expired {
		e.logger.Log(logging.LevelInfo, "reaping expired session", map[string]interface{}{
			"session": s.ID(),
			"slug":    s.Slug(),
		})
		_ = s.Close(e.opts.CloseGrace)
	}
}
