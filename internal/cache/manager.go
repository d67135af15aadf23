package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// EntryState describes the lifecycle position of a cache entry.
type EntryState string

const (
	StateAbsent     EntryState = "absent"
	StateInstalling EntryState = "installing"
	StateReady      EntryState = "ready"
	StateFailed     EntryState = "failed"
)

const metadataFile = "forge-meta.json"

// Key derives the cache directory name for a package spec. The full spec
// lives in the entry metadata; the directory name only has to be unique
// and filesystem safe.
func Key(spec string) string {
	sum := sha256.Sum256([]byte(spec))
	return hex.EncodeToString(sum[:])[:16]
}

// Entry describes one cached installation.
type Entry struct {
	Key         string     `json:"key"`
	Spec        string     `json:"spec"`
	Ecosystem   string     `json:"ecosystem"`
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Executable  string     `json:"executable"`
	State       EntryState `json:"state"`
	InstalledAt time.Time  `json:"installed_at"`
	Error       string     `json:"error,omitempty"`
	SizeBytes   int64      `json:"size_bytes,omitempty"`
}

// Stats summarizes the cache contents.
type Stats struct {
	CacheDir       string `json:"cache_dir"`
	TotalEntries   int    `json:"total_entries"`
	ReadyEntries   int    `json:"ready_entries"`
	FailedEntries  int    `json:"failed_entries"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
}

// Manager owns the on-disk install cache. Concurrent installs of the same
// package are serialized twice over: a per-key mutex within the process and
// a file lock across processes. Entries become visible only through an
// atomic rename, so a reader never observes a half-written installation.
type Manager struct {
	root     string
	mutex    sync.Mutex
	keyLocks map[string]*sync.Mutex
	active   map[string]context.CancelFunc
}

// NewManager creates a cache manager rooted at cacheDir, creating the
// directory layout if needed.
func NewManager(cacheDir string) (*Manager, error) {
	for _, sub := range []string{"entries", "staging", "locks"} {
		if err := os.MkdirAll(filepath.Join(cacheDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	return &Manager{
		root:     cacheDir,
		keyLocks: make(map[string]*sync.Mutex),
		active:   make(map[string]context.CancelFunc),
	}, nil
}

// Root returns the cache root directory.
func (m *Manager) Root() string {
	return m.root
}

func (m *Manager) entryDir(key string) string {
	return filepath.Join(m.root, "entries", key)
}

func (m *Manager) lockFor(key string) *sync.Mutex {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	lock, ok := m.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.keyLocks[key] = lock
	}
	return lock
}

// Lookup returns the entry for a key. State is StateAbsent when nothing is
// published; a directory without readable metadata reports StateFailed so
// the caller can clear and reinstall.
func (m *Manager) Lookup(key string) (Entry, bool) {
	data, err := os.ReadFile(filepath.Join(m.entryDir(key), metadataFile))
	if err != nil {
		if _, statErr := os.Stat(m.entryDir(key)); statErr == nil {
			return Entry{Key: key, State: StateFailed, Error: "metadata missing"}, true
		}
		return Entry{Key: key, State: StateAbsent}, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{Key: key, State: StateFailed, Error: "metadata corrupt"}, true
	}
	if entry.State == StateReady && entry.Executable != "" && !isImageRef(entry) {
		if _, err := os.Stat(entry.Executable); err != nil {
			entry.State = StateFailed
			entry.Error = "executable missing"
		}
	}
	return entry, true
}

// Container entries record an image reference rather than a path, so the
// stat check does not apply.
func isImageRef(entry Entry) bool {
	return entry.Ecosystem == "container"
}

// List returns all entries sorted by directory order.
func (m *Manager) List() ([]Entry, error) {
	dirs, err := os.ReadDir(filepath.Join(m.root, "entries"))
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}
	entries := make([]Entry, 0, len(dirs))
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		if entry, ok := m.Lookup(d.Name()); ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// cancelInstalls aborts the in-flight install transactions for the given
// keys (all of them when keys is empty) and returns the keys it cancelled.
func (m *Manager) cancelInstalls(keys ...string) []string {
	m.mutex.Lock()
	if len(keys) == 0 {
		for key := range m.active {
			keys = append(keys, key)
		}
	}
	var cancelled []string
	for _, key := range keys {
		if cancel, ok := m.active[key]; ok {
			cancel()
			cancelled = append(cancelled, key)
		}
	}
	m.mutex.Unlock()
	return cancelled
}

// Clear removes a single entry. An in-progress install for the key is
// cancelled first so the removal does not wait behind it. Missing entries
// are not an error.
func (m *Manager) Clear(key string) error {
	m.cancelInstalls(key)

	keyLock := m.lockFor(key)
	keyLock.Lock()
	defer keyLock.Unlock()

	if err := os.RemoveAll(m.entryDir(key)); err != nil {
		return fmt.Errorf("failed to remove cache entry %s: %w", key, err)
	}
	return nil
}

// ClearAll removes every entry plus any leftover staging directories.
// In-progress installs are cancelled and their transactions allowed to wind
// down before the directories go, so nothing rewrites them afterwards.
func (m *Manager) ClearAll() error {
	for _, key := range m.cancelInstalls() {
		keyLock := m.lockFor(key)
		keyLock.Lock()
		// Holding the lock means the cancelled transaction has released it.
		keyLock.Unlock()
	}

	for _, sub := range []string{"entries", "staging"} {
		dir := filepath.Join(m.root, sub)
		children, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to read cache directory: %w", err)
		}
		for _, child := range children {
			if err := os.RemoveAll(filepath.Join(dir, child.Name())); err != nil {
				return fmt.Errorf("failed to remove %s: %w", child.Name(), err)
			}
		}
	}
	return nil
}

// GetStats walks the cache and returns aggregate numbers.
func (m *Manager) GetStats() (Stats, error) {
	entries, err := m.List()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{CacheDir: m.root, TotalEntries: len(entries)}
	for _, entry := range entries {
		switch entry.State {
		case StateReady:
			stats.ReadyEntries++
		case StateFailed:
			stats.FailedEntries++
		}
		stats.TotalSizeBytes += dirSize(m.entryDir(entry.Key))
	}
	return stats, nil
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// Begin opens an install transaction for a key, holding both the in-process
// key lock and a cross-process file lock until Publish or Fail. Begin blocks
// until the locks are acquired or ctx expires. The transaction's Context is
// cancelled when the entry is cleared mid-install, so installers running
// under it stop instead of publishing into a removed entry.
func (m *Manager) Begin(ctx context.Context, key string) (*Transaction, error) {
	keyLock := m.lockFor(key)
	keyLock.Lock()

	fileLock := flock.New(filepath.Join(m.root, "locks", key+".lock"))
	locked, err := fileLock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil || !locked {
		keyLock.Unlock()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("failed to lock cache entry %s: %w", key, err)
	}

	staging := filepath.Join(m.root, "staging", fmt.Sprintf("%s-%d", key, time.Now().UnixNano()))
	if err := os.MkdirAll(staging, 0755); err != nil {
		_ = fileLock.Unlock()
		keyLock.Unlock()
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	txCtx, cancel := context.WithCancel(ctx)
	m.mutex.Lock()
	m.active[key] = cancel
	m.mutex.Unlock()

	return &Transaction{
		manager:  m,
		key:      key,
		keyLock:  keyLock,
		fileLock: fileLock,
		staging:  staging,
		ctx:      txCtx,
		cancel:   cancel,
	}, nil
}
