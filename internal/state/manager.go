package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"lazyns/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("state")
)

// DefaultBackups is the number of backups kept when none is configured.
const DefaultBackups = 5

// ErrUnsupportedVersion is returned when a manifest was written by a newer
// format than this package understands.
var ErrUnsupportedVersion = errors.New("unsupported manifest version")

// Manager loads and saves manifests, rotating backups of the previous file.
type Manager struct {
	statePath   string
	backupDir   string
	backupCount int
	mu          sync.RWMutex
}

// NewManager creates a manager for the manifest at statePath. Relative
// paths are resolved against the working directory. backups below one
// selects DefaultBackups.
func NewManager(statePath string, backups int) (*Manager, error) {
	logger.Debug("Creating new state manager with path: %s", statePath)

	absPath, err := filepath.Abs(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state path %s: %w", statePath, err)
	}
	logger.Debug("Resolved state path: %s", absPath)

	stateDir := filepath.Dir(absPath)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	backupDir := filepath.Join(stateDir, ".lazyns-backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", backupDir, err)
	}

	if backups < 1 {
		backups = DefaultBackups
	}
	return &Manager{
		statePath:   absPath,
		backupDir:   backupDir,
		backupCount: backups,
	}, nil
}

// Path returns the absolute manifest path.
func (sm *Manager) Path() string { return sm.statePath }

// Load reads the manifest from disk. A missing or empty file yields an
// empty manifest.
func (sm *Manager) Load() (*Manifest, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	logger.Debug("Loading manifest from: %s", sm.statePath)
	data, err := os.ReadFile(sm.statePath)
	if os.IsNotExist(err) || (err == nil && len(data) == 0) {
		logger.Debug("No manifest at %s, starting empty", sm.statePath)
		return NewManifest(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, m.Version)
	}
	if m.Roots == nil {
		m.Roots = make(map[string]string)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]Entry)
	}

	logger.Trace("Manifest loaded (%d entries)", len(m.Entries))
	return &m, nil
}

// Save writes m to disk after backing up the previous manifest.
func (sm *Manager) Save(m *Manifest) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	logger.Debug("Saving manifest to: %s", sm.statePath)

	if err := sm.createBackup(); err != nil {
		logger.Warn("Failed to create backup: %v", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	logger.Trace("Writing %d bytes of manifest data", len(data))
	if err := os.WriteFile(sm.statePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	written, err := os.ReadFile(sm.statePath)
	if err != nil {
		return fmt.Errorf("failed to verify written manifest: %w", err)
	}
	if len(written) != len(data) {
		return fmt.Errorf("manifest is %d bytes after write, expected %d", len(written), len(data))
	}

	logger.Debug("Manifest saved and verified")
	return nil
}

// Backups returns the backup files, newest first.
func (sm *Manager) Backups() ([]string, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	backups, err := sm.listBackups()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(backups))
	for i, b := range backups {
		paths[i] = b.path
	}
	return paths, nil
}

// createBackup copies the current manifest into the backup directory.
func (sm *Manager) createBackup() error {
	data, err := os.ReadFile(sm.statePath)
	if os.IsNotExist(err) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102-150405.000000000")
	backupPath := filepath.Join(sm.backupDir, fmt.Sprintf("manifest-%s.json", timestamp))

	logger.Debug("Creating backup: %s", backupPath)
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	return sm.cleanupOldBackups()
}

type backup struct {
	path    string
	modTime time.Time
}

func (sm *Manager) listBackups() ([]backup, error) {
	entries, err := os.ReadDir(sm.backupDir)
	if err != nil {
		return nil, err
	}

	backups := make([]backup, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{
			path:    filepath.Join(sm.backupDir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	// Newest first; names carry the timestamp and break ties.
	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].modTime.Equal(backups[j].modTime) {
			return backups[i].modTime.After(backups[j].modTime)
		}
		return backups[i].path > backups[j].path
	})
	return backups, nil
}

// cleanupOldBackups keeps only the most recent backupCount backups.
func (sm *Manager) cleanupOldBackups() error {
	backups, err := sm.listBackups()
	if err != nil {
		return err
	}
	for i := sm.backupCount; i < len(backups); i++ {
		logger.Debug("Removing old backup: %s", backups[i].path)
		if err := os.Remove(backups[i].path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", backups[i].path, err)
		}
	}
	return nil
}
