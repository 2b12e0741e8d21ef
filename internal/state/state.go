// Package state remembers the last connected printer between runs.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/gopos-printer/internal/printer"
)

// record is the on-disk layout of the state file.
type record struct {
	LastConnectedDevice *printer.Identity `yaml:"last_connected_device"`
	SavedAt             time.Time         `yaml:"saved_at,omitempty"`
}

// FileStore persists the last connected printer as YAML.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. A leading ~ is expanded.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: expandTilde(path)}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// LoadIdentity returns the remembered printer, or nil when nothing has been
// saved yet.
func (s *FileStore) LoadIdentity() (*printer.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: reading %s: %w", s.path, err)
	}

	var rec record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("state: parsing %s: %w", s.path, err)
	}
	if rec.LastConnectedDevice == nil || rec.LastConnectedDevice.ID == "" {
		return nil, nil
	}
	return rec.LastConnectedDevice, nil
}

// SaveIdentity replaces the remembered printer.
func (s *FileStore) SaveIdentity(id printer.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(record{LastConnectedDevice: &id, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("state: encoding: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("state: creating dir: %w", err)
	}

	// Write then rename so a crash never leaves a truncated file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("state: replacing %s: %w", s.path, err)
	}
	return nil
}

// MemoryStore keeps the last connected printer in memory only.
type MemoryStore struct {
	mu sync.Mutex
	id *printer.Identity
}

func (s *MemoryStore) LoadIdentity() (*printer.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == nil {
		return nil, nil
	}
	id := *s.id
	return &id, nil
}

func (s *MemoryStore) SaveIdentity(id printer.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = &id
	return nil
}

func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

var (
	_ printer.IdentityStore = (*FileStore)(nil)
	_ printer.IdentityStore = (*MemoryStore)(nil)
)
