package runtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpforge.dev/cli/internal/core/descriptor"
	"mcpforge.dev/cli/internal/logging"
	"mcpforge.dev/cli/internal/process"
)

// fakeStarter hands out a fresh fake process per Start, each one served by
// the given peer handler.
type fakeStarter struct {
	handle func(peerRequest) []byte

	mu      sync.Mutex
	started []*fakeProc
}

func (s *fakeStarter) Start(ctx context.Context, cmd process.Command) (process.Process, error) {
	proc := newFakeProc()
	servePeer(proc, s.handle)
	s.mu.Lock()
	s.started = append(s.started, proc)
	s.mu.Unlock()
	return proc, nil
}

func testLaunchSpec(t *testing.T) descriptor.LaunchSpec {
	t.Helper()
	spec, err := descriptor.NewLaunchSpec("/tmp/fake/bin/server", []string{"--stdio"}, "", nil)
	require.NoError(t, err)
	return spec
}

func newTestEngine(t *testing.T, starter Starter, opts Options) *Engine {
	t.Helper()
	engine := NewEngine(starter, logging.NopLogger{}, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})
	return engine
}

func TestEngine_CreateGetAndList(t *testing.T) {
	starter := &fakeStarter{handle: standardPeer}
	engine := newTestEngine(t, starter, Options{HandshakeTimeout: 2 * time.Second})

	session, err := engine.CreateSession(context.Background(), "acme/search", testLaunchSpec(t))
	require.NoError(t, err)
	assert.Equal(t, "fake-server", session.ServerName())

	got, err := engine.Get(session.ID())
	require.NoError(t, err)
	assert.Same(t, session, got)

	infos := engine.List()
	require.Len(t, infos, 1)
	assert.Equal(t, session.ID(), infos[0].ID)
	assert.Equal(t, "acme/search", infos[0].Slug)
	assert.Equal(t, SessionInitialized, infos[0].State)

	_, err = engine.Get("no-such-id")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngine_CloseSession(t *testing.T) {
	starter := &fakeStarter{handle: standardPeer}
	engine := newTestEngine(t, starter, Options{HandshakeTimeout: 2 * time.Second})

	session, err := engine.CreateSession(context.Background(), "acme/search", testLaunchSpec(t))
	require.NoError(t, err)

	require.NoError(t, engine.CloseSession(session.ID()))
	assert.Equal(t, SessionClosed, session.State())
	assert.Empty(t, engine.List())

	assert.ErrorIs(t, engine.CloseSession(session.ID()), ErrSessionNotFound)
}

func TestEngine_HandshakeFailureSurfacesStderr(t *testing.T) {
	starter := &fakeStarter{handle: nil}
	starter.handle = func(req peerRequest) []byte {
		if req.Method != "initialize" {
			return nil
		}
		// Emit the credential complaint before refusing the handshake, as a
		// real server would. The pipe write blocks until the session side
		// has read it, so the tail is populated when the error returns.
		starter.mu.Lock()
		proc := starter.started[len(starter.started)-1]
		starter.mu.Unlock()
		_, _ = proc.stderrW.Write([]byte("Error: GITHUB_TOKEN environment variable is not set\n"))
		return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"error":{"code":-32000,"message":"missing credentials"}}`, req.ID))
	}
	engine := newTestEngine(t, starter, Options{HandshakeTimeout: 2 * time.Second, CloseGrace: 50 * time.Millisecond})

	_, err := engine.CreateSession(context.Background(), "acme/github", testLaunchSpec(t))
	require.Error(t, err)

	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, "acme/github", hsErr.Slug)
	assert.Contains(t, hsErr.StderrTail, "GITHUB_TOKEN")
	assert.Empty(t, engine.List())
}

func TestEngine_HandshakeTimeout(t *testing.T) {
	starter := &fakeStarter{handle: func(req peerRequest) []byte {
		return nil // never answer initialize
	}}
	engine := newTestEngine(t, starter, Options{HandshakeTimeout: 100 * time.Millisecond, CloseGrace: 50 * time.Millisecond})

	_, err := engine.CreateSession(context.Background(), "acme/slow", testLaunchSpec(t))
	require.Error(t, err)
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngine_CrashedSessionIsDeregistered(t *testing.T) {
	starter := &fakeStarter{handle: standardPeer}
	engine := newTestEngine(t, starter, Options{HandshakeTimeout: 2 * time.Second, CloseGrace: 50 * time.Millisecond})

	session, err := engine.CreateSession(context.Background(), "acme/search", testLaunchSpec(t))
	require.NoError(t, err)
	require.Len(t, engine.List(), 1)

	// The server dies on its own; nothing calls CloseSession.
	starter.mu.Lock()
	proc := starter.started[0]
	starter.mu.Unlock()
	proc.stop()

	assert.Eventually(t, func() bool {
		return session.State() == SessionClosed
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(engine.List()) == 0
	}, time.Second, 10*time.Millisecond)

	_, err = engine.Get(session.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngine_IdleReaping(t *testing.T) {
	starter := &fakeStarter{handle: standardPeer}
	engine := newTestEngine(t, starter, Options{
		HandshakeTimeout: 2 * time.Second,
		IdleTimeout:      50 * time.Millisecond,
		ReapInterval:     20 * time.Millisecond,
		CloseGrace:       50 * time.Millisecond,
	})

	session, err := engine.CreateSession(context.Background(), "acme/search", testLaunchSpec(t))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := engine.Get(session.ID())
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, SessionClosed, session.State())
}

func TestEngine_ActivityDefersReaping(t *testing.T) {
	starter := &fakeStarter{handle: standardPeer}
	engine := newTestEngine(t, starter, Options{
		HandshakeTimeout: 2 * time.Second,
		IdleTimeout:      300 * time.Millisecond,
		ReapInterval:     50 * time.Millisecond,
		CloseGrace:       50 * time.Millisecond,
	})

	session, err := engine.CreateSession(context.Background(), "acme/search", testLaunchSpec(t))
	require.NoError(t, err)

	// Keep traffic flowing past the first idle window.
	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		_, err := session.ListTools(context.Background())
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}

	_, err = engine.Get(session.ID())
	assert.NoError(t, err)
}

func TestEngine_Shutdown(t *testing.T) {
	starter := &fakeStarter{handle: standardPeer}
	engine := NewEngine(starter, logging.NopLogger{}, Options{HandshakeTimeout: 2 * time.Second, CloseGrace: 50 * time.Millisecond})

	first, err := engine.CreateSession(context.Background(), "acme/one", testLaunchSpec(t))
	require.NoError(t, err)
	second, err := engine.CreateSession(context.Background(), "acme/two", testLaunchSpec(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, engine.Shutdown(ctx))

	assert.Equal(t, SessionClosed, first.State())
	assert.Equal(t, SessionClosed, second.State())
	assert.Empty(t, engine.List())

	_, err = engine.CreateSession(context.Background(), "acme/three", testLaunchSpec(t))
	assert.ErrorIs(t, err, ErrEngineShutdown)

	// A second shutdown is a no-op.
	require.NoError(t, engine.Shutdown(ctx))
}
