// Package snapshot persists point-in-time usage readings to a shared
// container directory read by independent processes (widget pollers,
// shell scripts). The app is the single writer; readers tolerate stale
// but never partially-written data, so every write is temp-then-rename.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/quotabar/quotabar/pkg/model"
)

// ErrStorageUnavailable indicates the shared container directory cannot
// be created or accessed. Distinct from a transient I/O error: it usually
// means a packaging or permissions misconfiguration.
var ErrStorageUnavailable = errors.New("snapshot: shared container unavailable")

// ErrNotFound indicates no snapshot has been persisted yet.
var ErrNotFound = errors.New("snapshot: not found")

// Store reads and writes snapshot files under a shared container directory.
type Store struct {
	dir string
}

// NewStore creates the container directory if needed and returns a store
// rooted there.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the container directory.
func (s *Store) Dir() string { return s.dir }

// UsagePath returns the snapshot file path for a provider. The filename is
// part of the cross-process contract; do not rename.
func (s *Store) UsagePath(p model.UsageProvider) string {
	return filepath.Join(s.dir, "usage-"+p.StorageKey()+".json")
}

// TokenUsagePath returns the token-usage snapshot file path for a provider.
func (s *Store) TokenUsagePath(p model.UsageProvider) string {
	return filepath.Join(s.dir, "tokens-"+p.StorageKey()+".json")
}

// SaveUsage atomically persists a usage snapshot.
func (s *Store) SaveUsage(snap *model.UsageSnapshot) error {
	return s.writeJSON(s.UsagePath(snap.Provider), snap)
}

// LoadUsage reads the persisted usage snapshot for a provider.
// Returns ErrNotFound when none exists.
func (s *Store) LoadUsage(p model.UsageProvider) (*model.UsageSnapshot, error) {
	var snap model.UsageSnapshot
	if err := s.readJSON(s.UsagePath(p), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveTokenUsage atomically persists a token-usage snapshot.
func (s *Store) SaveTokenUsage(snap *model.TokenUsageSnapshot) error {
	return s.writeJSON(s.TokenUsagePath(snap.Provider), snap)
}

// LoadTokenUsage reads the persisted token-usage snapshot for a provider.
func (s *Store) LoadTokenUsage(p model.UsageProvider) (*model.TokenUsageSnapshot, error) {
	var snap model.TokenUsageSnapshot
	if err := s.readJSON(s.TokenUsagePath(p), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	// Temp file in the same directory so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot file: %w", err)
	}
	return nil
}

func (s *Store) readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", filepath.Base(path), err)
	}
	return nil
}
