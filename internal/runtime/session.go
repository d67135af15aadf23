// Package runtime hosts MCP server processes and multiplexes JSON-RPC
// sessions over their stdio. One session owns one child process; the engine
// owns the sessions.
package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mcpforge.dev/cli/internal/core/descriptor"
	"mcpforge.dev/cli/internal/jsonrpc"
	"mcpforge.dev/cli/internal/logging"
	"mcpforge.dev/cli/internal/process"
)

// ProtocolVersion is the MCP protocol revision sent in the initialize
// handshake.
const ProtocolVersion = "2024-11-05"

// clientName identifies this runtime to servers.
const clientName = "mcpforge"

// SessionState tracks a session through its lifecycle.
type SessionState string

const (
	SessionStarting    SessionState = "starting"
	SessionInitialized SessionState = "initialized"
	SessionActive      SessionState = "active"
	SessionClosing     SessionState = "closing"
	SessionClosed      SessionState = "closed"
)

// serverProcess is the slice of process.Process a session needs. Tests
// substitute an in-memory peer.
type serverProcess interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	Signal(process.ProcessSignal) error
	Kill() error
	Wait() error
	IsRunning() bool
}

// Session is one live JSON-RPC connection to a managed server. Calls from
// any goroutine are safe; responses are correlated by request id, so
// out-of-order replies resolve the right caller.
type Session struct {
	id      string
	slug    string
	proc    serverProcess
	logger  logging.Logger
	created time.Time

	gen     jsonrpc.IDGenerator
	writeMu sync.Mutex

	mu           sync.RWMutex
	state        SessionState
	lastActivity time.Time
	pending      map[string]chan *jsonrpc.Message
	serverName   string
	protocol     string

	stderrMu   sync.Mutex
	stderrTail strings.Builder

	group     *errgroup.Group
	closeOnce sync.Once
	closed    chan struct{}
	onExit    func(*Session)
}

const stderrTailLimit = 8 * 1024

func newSession(slug string, proc serverProcess, logger logging.Logger, onExit func(*Session)) *Session {
	s := &Session{
		id:           uuid.NewString(),
		slug:         slug,
		proc:         proc,
		logger:       logger,
		created:      time.Now(),
		lastActivity: time.Now(),
		state:        SessionStarting,
		pending:      make(map[string]chan *jsonrpc.Message),
		closed:       make(chan struct{}),
		onExit:       onExit,
	}

	s.group = &errgroup.Group{}
	s.group.Go(s.readLoop)
	s.group.Go(s.stderrLoop)
	go s.watchExit()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Slug returns the package slug this session runs.
func (s *Session) Slug() string { return s.slug }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CreatedAt returns when the session started.
func (s *Session) CreatedAt() time.Time { return s.created }

// LastActivity returns the time of the most recent call or response.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// ServerName returns the name the server reported during initialize.
func (s *Session) ServerName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverName
}

// Protocol returns the protocol version the server agreed to.
func (s *Session) Protocol() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocol
}

// StderrTail returns the retained tail of the server's stderr, used for
// credential-failure heuristics when a server dies early.
func (s *Session) StderrTail() string {
	s.stderrMu.Lock()
	defer s.stderrMu.Unlock()
	return s.stderrTail.String()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Call sends a request and blocks until its response, ctx expiry, or session
// close.
func (s *Session) Call(ctx context.Context, method string, params interface{}) (*jsonrpc.Message, error) {
	s.mu.Lock()
	if s.state == SessionClosing || s.state == SessionClosed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	id := s.gen.Next()
	key := jsonrpc.KeyForID(id)
	ch := make(chan *jsonrpc.Message, 1)
	s.pending[key] = ch
	s.lastActivity = time.Now()
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
	}

	data, err := jsonrpc.EncodeRequest(id, method, params)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := s.write(data); err != nil {
		cleanup()
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	select {
	case msg := <-ch:
		s.touch()
		if msg == nil {
			return nil, ErrSessionClosed
		}
		if msg.IsError() {
			return msg, fmt.Errorf("%s failed: rpc error %d: %s", method, msg.ErrorInfo().Code, msg.ErrorInfo().Message)
		}
		return msg, nil
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-s.closed:
		cleanup()
		return nil, ErrSessionClosed
	}
}

// Notify sends a notification; no response is expected.
func (s *Session) Notify(method string, params interface{}) error {
	data, err := jsonrpc.EncodeNotification(method, params)
	if err != nil {
		return err
	}
	return s.write(data)
}

func (s *Session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.proc.Stdin().Write(data)
	return err
}

// initialize performs the MCP handshake and records what the server
// reported.
func (s *Session) initialize(ctx context.Context) error {
	msg, err := s.Call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    clientName,
			"version": "1.0",
		},
	})
	if err != nil {
		return fmt.Errorf("initialize handshake: %w", err)
	}

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	if err := msg.UnmarshalResult(&result); err != nil {
		return fmt.Errorf("initialize result: %w", err)
	}

	s.mu.Lock()
	s.serverName = result.ServerInfo.Name
	s.protocol = result.ProtocolVersion
	s.state = SessionInitialized
	s.mu.Unlock()

	if err := s.Notify("notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// ListTools asks the server for its tool catalog.
func (s *Session) ListTools(ctx context.Context) ([]descriptor.ToolInfo, error) {
	msg, err := s.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []descriptor.ToolInfo `json:"tools"`
	}
	if err := msg.UnmarshalResult(&result); err != nil {
		return nil, fmt.Errorf("tools/list result: %w", err)
	}
	s.markActive()
	return result.Tools, nil
}

// ListResources returns the names of the server's resources. Servers without
// resource support answer with an error; that is reported as an empty list.
func (s *Session) ListResources(ctx context.Context) ([]string, error) {
	msg, err := s.Call(ctx, "resources/list", nil)
	if err != nil {
		if msg != nil && msg.IsError() {
			return nil, nil
		}
		return nil, err
	}
	var result struct {
		Resources []struct {
			URI  string `json:"uri"`
			Name string `json:"name"`
		} `json:"resources"`
	}
	if err := msg.UnmarshalResult(&result); err != nil {
		return nil, fmt.Errorf("resources/list result: %w", err)
	}
	names := make([]string, 0, len(result.Resources))
	for _, r := range result.Resources {
		if r.Name != "" {
			names = append(names, r.Name)
		} else {
			names = append(names, r.URI)
		}
	}
	s.markActive()
	return names, nil
}

// ListPrompts returns the names of the server's prompts, empty when the
// server lacks prompt support.
func (s *Session) ListPrompts(ctx context.Context) ([]string, error) {
	msg, err := s.Call(ctx, "prompts/list", nil)
	if err != nil {
		if msg != nil && msg.IsError() {
			return nil, nil
		}
		return nil, err
	}
	var result struct {
		Prompts []struct {
			Name string `json:"name"`
		} `json:"prompts"`
	}
	if err := msg.UnmarshalResult(&result); err != nil {
		return nil, fmt.Errorf("prompts/list result: %w", err)
	}
	names := make([]string, 0, len(result.Prompts))
	for _, p := range result.Prompts {
		names = append(names, p.Name)
	}
	s.markActive()
	return names, nil
}

// CallTool invokes one tool and returns the raw result payload.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (json.RawMessage, error) {
	params := map[string]interface{}{"name": name}
	if arguments != nil {
		params["arguments"] = arguments
	}
	msg, err := s.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	s.markActive()
	return msg.Result(), nil
}

func (s *Session) markActive() {
	s.mu.Lock()
	if s.state == SessionInitialized {
		s.state = SessionActive
	}
	s.mu.Unlock()
}

// readLoop pumps the server's stdout, correlating responses and logging
// everything else. Lines that are not JSON-RPC are tolerated: some servers
// print banners on stdout before settling into the protocol.
func (s *Session) readLoop() error {
	scanner := bufio.NewScanner(s.proc.Stdout())
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := jsonrpc.Parse(line)
		if err != nil {
			s.logger.Log(logging.LevelDebug, "ignoring non-protocol stdout line", map[string]interface{}{
				"session": s.id,
			})
			continue
		}

		switch {
		case msg.IsResponse() || msg.IsError():
			s.dispatch(msg)
		case msg.IsNotification():
			s.logger.Log(logging.LevelDebug, "server notification", map[string]interface{}{
				"session": s.id,
				"method":  msg.Method(),
			})
		default:
			// Server-initiated requests are not supported; ignore.
		}
	}

	s.drainPending()
	return scanner.Err()
}

func (s *Session) dispatch(msg *jsonrpc.Message) {
	key := msg.CorrelationKey()
	s.mu.Lock()
	ch, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if !ok {
		s.logger.Log(logging.LevelDebug, "response without pending request", map[string]interface{}{
			"session": s.id,
			"id":      key,
		})
		return
	}
	ch <- msg
}

// drainPending resolves every in-flight call with a closed-session signal.
func (s *Session) drainPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]chan *jsonrpc.Message)
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- nil
	}
}

func (s *Session) stderrLoop() error {
	scanner := bufio.NewScanner(s.proc.Stderr())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		s.stderrMu.Lock()
		if s.stderrTail.Len() < stderrTailLimit {
			s.stderrTail.WriteString(line)
			s.stderrTail.WriteString("\n")
		}
		s.stderrMu.Unlock()
		s.logger.Log(logging.LevelDebug, "server stderr", map[string]interface{}{
			"session": s.id,
			"line":    line,
		})
	}
	return scanner.Err()
}

// Close tears the session down: graceful terminate, short wait, then kill.
// In-flight calls resolve with ErrSessionClosed. Safe to call repeatedly.
func (s *Session) Close(grace time.Duration) error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.beginClose()
		closeErr = process.GracefulStop(stopAdapter{s.proc}, grace)
		s.finishClose()
	})
	return closeErr
}

// Done is closed once the session starts shutting down, whether by Close or
// by the server process exiting on its own.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// watchExit notices the server process dying for any reason and runs the
// close path, so a crashed server never lingers as a live-looking session.
func (s *Session) watchExit() {
	_ = s.proc.Wait()
	s.closeOnce.Do(func() {
		s.logger.Log(logging.LevelWarn, "server process exited", map[string]interface{}{
			"session": s.id,
			"slug":    s.slug,
		})
		s.beginClose()
		s.finishClose()
	})
	if s.onExit != nil {
		s.onExit(s)
	}
}

func (s *Session) beginClose() {
	s.mu.Lock()
	s.state = SessionClosing
	s.mu.Unlock()
	close(s.closed)
}

func (s *Session) finishClose() {
	_ = s.group.Wait()
	s.drainPending()

	s.mu.Lock()
	s.state = SessionClosed
	s.mu.Unlock()
}

// stopAdapter lets GracefulStop work on the session's narrowed process view.
type stopAdapter struct {
	serverProcess
}

func (a stopAdapter) PID() int      { return 0 }
func (a stopAdapter) ExitCode() int { return 0 }
