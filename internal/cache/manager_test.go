package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(t.TempDir())
	require.NoError(t, err)
	return manager
}

func stageExecutable(t *testing.T, tx *Transaction, rel string) string {
	t.Helper()
	path := filepath.Join(tx.StagingDir(), rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
	return path
}

func TestManager_PublishMakesEntryVisible(t *testing.T) {
	manager := newTestManager(t)
	key := Key("npm|@acme/server|1.2.3")

	_, found := manager.Lookup(key)
	assert.False(t, found)

	tx, err := manager.Begin(context.Background(), key)
	require.NoError(t, err)
	exe := stageExecutable(t, tx, filepath.Join("node_modules", ".bin", "server"))

	published, err := tx.Publish(Entry{
		Spec:      "npm|@acme/server|1.2.3",
		Ecosystem: "npm",
		Name:      "@acme/server",
		Version:   "1.2.3",
	}, exe)
	require.NoError(t, err)

	entry, found := manager.Lookup(key)
	require.True(t, found)
	assert.Equal(t, StateReady, entry.State)
	assert.Equal(t, published.Executable, entry.Executable)
	assert.FileExists(t, entry.Executable)
	assert.NotContains(t, entry.Executable, "staging", "published path must not point into staging")
	assert.Greater(t, entry.SizeBytes, int64(0))
}

func TestManager_FailLeavesFailedMarker(t *testing.T) {
	manager := newTestManager(t)
	key := Key("pipx|broken|latest")

	tx, err := manager.Begin(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, tx.Fail(Entry{Spec: "pipx|broken|latest", Ecosystem: "pipx", Name: "broken"}, assert.AnError))

	entry, found := manager.Lookup(key)
	require.True(t, found)
	assert.Equal(t, StateFailed, entry.State)
	assert.NotEmpty(t, entry.Error)

	// The staging directory must be gone.
	staging, err := os.ReadDir(filepath.Join(manager.Root(), "staging"))
	require.NoError(t, err)
	assert.Empty(t, staging)
}

func TestManager_PublishReplacesFailedEntry(t *testing.T) {
	manager := newTestManager(t)
	key := Key("cargo|mcp-server|0.3.0")

	tx, err := manager.Begin(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, tx.Fail(Entry{Ecosystem: "cargo", Name: "mcp-server"}, assert.AnError))

	tx, err = manager.Begin(context.Background(), key)
	require.NoError(t, err)
	exe := stageExecutable(t, tx, filepath.Join("bin", "mcp-server"))
	_, err = tx.Publish(Entry{Ecosystem: "cargo", Name: "mcp-server", Version: "0.3.0"}, exe)
	require.NoError(t, err)

	entry, found := manager.Lookup(key)
	require.True(t, found)
	assert.Equal(t, StateReady, entry.State)
	assert.Empty(t, entry.Error)
}

func TestManager_MissingExecutableReportsFailed(t *testing.T) {
	manager := newTestManager(t)
	key := Key("go|example.com/srv|latest")

	tx, err := manager.Begin(context.Background(), key)
	require.NoError(t, err)
	exe := stageExecutable(t, tx, filepath.Join("bin", "srv"))
	published, err := tx.Publish(Entry{Ecosystem: "go", Name: "example.com/srv"}, exe)
	require.NoError(t, err)

	require.NoError(t, os.Remove(published.Executable))

	entry, found := manager.Lookup(key)
	require.True(t, found)
	assert.Equal(t, StateFailed, entry.State)
}

func TestManager_ContainerEntrySkipsExecutableCheck(t *testing.T) {
	manager := newTestManager(t)
	key := Key("container|acme/server|latest")

	tx, err := manager.Begin(context.Background(), key)
	require.NoError(t, err)
	_, err = tx.Publish(Entry{Ecosystem: "container", Name: "acme/server", Version: "latest"}, "acme/server:latest")
	require.NoError(t, err)

	entry, found := manager.Lookup(key)
	require.True(t, found)
	assert.Equal(t, StateReady, entry.State)
	assert.Equal(t, "acme/server:latest", entry.Executable)
}

func TestManager_BeginSerializesSameKey(t *testing.T) {
	manager := newTestManager(t)
	key := Key("npm|contended|latest")

	tx, err := manager.Begin(context.Background(), key)
	require.NoError(t, err)

	second := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tx2, err := manager.Begin(context.Background(), key)
		if err != nil {
			return
		}
		close(second)
		_ = tx2.Fail(Entry{}, nil)
	}()

	select {
	case <-second:
		t.Fatal("second transaction acquired the key while the first held it")
	case <-time.After(150 * time.Millisecond):
	}

	exe := stageExecutable(t, tx, "server")
	_, err = tx.Publish(Entry{Ecosystem: "npm", Name: "contended"}, exe)
	require.NoError(t, err)
	wg.Wait()
}

func TestManager_BeginHonorsContext(t *testing.T) {
	manager := newTestManager(t)
	key := Key("npm|stuck|latest")

	tx, err := manager.Begin(context.Background(), key)
	require.NoError(t, err)
	defer func() { _ = tx.Fail(Entry{}, nil) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := manager.Begin(ctx, key)
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Begin did not return after context expiry")
	}
}

func TestManager_ListAndStats(t *testing.T) {
	manager := newTestManager(t)

	for i, spec := range []string{"npm|a|1", "npm|b|2"} {
		tx, err := manager.Begin(context.Background(), Key(spec))
		require.NoError(t, err)
		exe := stageExecutable(t, tx, "bin")
		_, err = tx.Publish(Entry{Spec: spec, Ecosystem: "npm", Name: string(rune('a' + i))}, exe)
		require.NoError(t, err)
	}
	tx, err := manager.Begin(context.Background(), Key("npm|c|3"))
	require.NoError(t, err)
	require.NoError(t, tx.Fail(Entry{Spec: "npm|c|3", Ecosystem: "npm", Name: "c"}, assert.AnError))

	entries, err := manager.List()
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	stats, err := manager.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, 2, stats.ReadyEntries)
	assert.Equal(t, 1, stats.FailedEntries)
	assert.Greater(t, stats.TotalSizeBytes, int64(0))
}

func TestManager_ClearRemovesEntry(t *testing.T) {
	manager := newTestManager(t)
	key := Key("npm|gone|latest")

	tx, err := manager.Begin(context.Background(), key)
	require.NoError(t, err)
	exe := stageExecutable(t, tx, "server")
	_, err = tx.Publish(Entry{Ecosystem: "npm", Name: "gone"}, exe)
	require.NoError(t, err)

	require.NoError(t, manager.Clear(key))
	_, found := manager.Lookup(key)
	assert.False(t, found)

	// Clearing an absent key is fine.
	require.NoError(t, manager.Clear(key))
}

func TestManager_ClearCancelsInFlightInstall(t *testing.T) {
	manager := newTestManager(t)
	key := Key("npm|slow|latest")

	tx, err := manager.Begin(context.Background(), key)
	require.NoError(t, err)

	cleared := make(chan error, 1)
	go func() { cleared <- manager.Clear(key) }()

	// Clear does not wait behind the install; it signals it to stop.
	select {
	case <-tx.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("clear did not cancel the in-flight transaction")
	}

	// The installer notices the cancellation and winds the transaction down,
	// after which the clear goes through.
	require.NoError(t, tx.Fail(Entry{Ecosystem: "npm", Name: "slow"}, tx.Context().Err()))

	select {
	case err := <-cleared:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("clear did not complete after the transaction released")
	}

	_, found := manager.Lookup(key)
	assert.False(t, found)
}

func TestManager_ClearAllWaitsForCancelledInstalls(t *testing.T) {
	manager := newTestManager(t)
	key := Key("npm|busy|latest")

	tx, err := manager.Begin(context.Background(), key)
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		<-tx.Context().Done()
		_ = tx.Abort()
		close(released)
	}()

	require.NoError(t, manager.ClearAll())
	<-released

	// No staging leftovers survive, including from the aborted transaction.
	staging, err := os.ReadDir(filepath.Join(manager.Root(), "staging"))
	require.NoError(t, err)
	assert.Empty(t, staging)

	entries, err := manager.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTransaction_ReleaseUnregistersCancel(t *testing.T) {
	manager := newTestManager(t)
	key := Key("npm|done|latest")

	tx, err := manager.Begin(context.Background(), key)
	require.NoError(t, err)
	exe := stageExecutable(t, tx, "server")
	_, err = tx.Publish(Entry{Ecosystem: "npm", Name: "done"}, exe)
	require.NoError(t, err)

	// Clearing after publish removes the entry without touching any
	// transaction context; a fresh Begin works immediately afterwards.
	require.NoError(t, manager.Clear(key))

	next, err := manager.Begin(context.Background(), key)
	require.NoError(t, err)
	assert.NoError(t, next.Context().Err())
	require.NoError(t, next.Abort())
}

func TestKey_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		specA := rapid.StringMatching(`[a-z]+\|[a-z@/.-]+\|[0-9a-z.]+`).Draw(t, "specA")
		specB := rapid.StringMatching(`[a-z]+\|[a-z@/.-]+\|[0-9a-z.]+`).Draw(t, "specB")

		keyA := Key(specA)
		assert.Len(t, keyA, 16)
		assert.Equal(t, keyA, Key(specA), "key derivation must be deterministic")
		if specA != specB {
			assert.NotEqual(t, keyA, Key(specB))
		}
	})
}
