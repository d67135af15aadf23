package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Transaction is an in-flight installation. Plugins install into StagingDir;
// Publish moves the staging directory into the entries tree in one rename,
// and Fail discards it. Exactly one of Publish or Fail must be called.
type Transaction struct {
	manager  *Manager
	key      string
	keyLock  interface{ Unlock() }
	fileLock interface{ Unlock() error }
	staging  string
	finished bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// Key returns the cache key this transaction installs.
func (t *Transaction) Key() string {
	return t.key
}

// Context is cancelled when the entry under installation is cleared, on top
// of whatever deadline the caller's context carried into Begin. Install work
// should run under it.
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// StagingDir returns the private directory the installation writes into.
func (t *Transaction) StagingDir() string {
	return t.staging
}

// Publish records the entry metadata and atomically promotes the staging
// directory to the published entry. executable is the path the ecosystem
// plugin located inside the staging tree (or an image reference for
// container entries); staged paths are rewritten to their published
// location before the metadata is written.
func (t *Transaction) Publish(entry Entry, executable string) (Entry, error) {
	if t.finished {
		return Entry{}, fmt.Errorf("transaction for %s already finished", t.key)
	}
	defer t.release()

	target := t.manager.entryDir(t.key)
	if rel, err := filepath.Rel(t.staging, executable); err == nil && !isOutside(rel) {
		executable = filepath.Join(target, rel)
	}

	entry.Key = t.key
	entry.Executable = executable
	entry.State = StateReady
	entry.InstalledAt = time.Now()
	entry.SizeBytes = dirSize(t.staging)

	if err := writeMetadata(filepath.Join(t.staging, metadataFile), entry); err != nil {
		return Entry{}, err
	}
	// A previous failed entry under the same key gives way to the new one.
	if err := os.RemoveAll(target); err != nil {
		return Entry{}, fmt.Errorf("failed to clear previous entry: %w", err)
	}
	if err := os.Rename(t.staging, target); err != nil {
		return Entry{}, fmt.Errorf("failed to publish cache entry %s: %w", t.key, err)
	}
	return entry, nil
}

// Fail records the failure and removes the staging directory. The failed
// marker lets cache listings explain why an entry is unusable; the next
// install attempt replaces it.
func (t *Transaction) Fail(entry Entry, cause error) error {
	if t.finished {
		return fmt.Errorf("transaction for %s already finished", t.key)
	}
	defer t.release()

	if err := os.RemoveAll(t.staging); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}

	entry.Key = t.key
	entry.State = StateFailed
	entry.InstalledAt = time.Now()
	if cause != nil {
		entry.Error = cause.Error()
	}

	target := t.manager.entryDir(t.key)
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("failed to create entry directory: %w", err)
	}
	return writeMetadata(filepath.Join(target, metadataFile), entry)
}

// Abort discards the staging directory and releases the locks without
// recording anything. Used when the entry turned out to already exist.
func (t *Transaction) Abort() error {
	if t.finished {
		return fmt.Errorf("transaction for %s already finished", t.key)
	}
	defer t.release()
	if err := os.RemoveAll(t.staging); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	return nil
}

func (t *Transaction) release() {
	t.finished = true
	if t.manager != nil {
		t.manager.mutex.Lock()
		delete(t.manager.active, t.key)
		t.manager.mutex.Unlock()
	}
	if t.cancel != nil {
		t.cancel()
	}
	_ = t.fileLock.Unlock()
	t.keyLock.Unlock()
}

func writeMetadata(path string, entry Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entry metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write entry metadata: %w", err)
	}
	return nil
}

func isOutside(rel string) bool {
	return rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
