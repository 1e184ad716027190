package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// FileSnapshotStore persists system snapshots as JSON on local disk. Writes
// go through a temp file and rename so a crash mid-write never corrupts the
// last good snapshot.
type FileSnapshotStore struct {
	path string

	mu      sync.Mutex
	savedAt time.Time
}

// NewFileSnapshotStore creates a store writing to the given path.
func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{path: path}
}

// Save writes the snapshot atomically.
func (f *FileSnapshotStore) Save(snap domain.SystemSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}

	f.mu.Lock()
	f.savedAt = time.Now()
	f.mu.Unlock()
	return nil
}

// Load reads the latest snapshot. A missing file yields domain.ErrNotFound.
func (f *FileSnapshotStore) Load() (domain.SystemSnapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.SystemSnapshot{}, fmt.Errorf("snapshot: %s: %w", f.path, domain.ErrNotFound)
		}
		return domain.SystemSnapshot{}, fmt.Errorf("snapshot: read %s: %w", f.path, err)
	}

	var snap domain.SystemSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.SystemSnapshot{}, fmt.Errorf("snapshot: decode %s: %w", f.path, err)
	}
	return snap, nil
}

// LastSavedAt returns when a snapshot was last written by this process.
func (f *FileSnapshotStore) LastSavedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.savedAt
}
