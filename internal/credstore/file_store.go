package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"irisctl/pkg/logging"
)

// DefaultStorageDir is the default directory, relative to the home directory,
// for the credentials file.
const DefaultStorageDir = ".config/irisctl"

// credentialsFileName is the name of the JSON document inside the storage dir.
const credentialsFileName = "credentials.json"

// FileStore keeps credentials in memory and, in file mode, mirrors them to a
// JSON file.
//
// SECURITY: values are session credentials.
//   - The file is written with 0600 permissions, the directory with 0700.
//   - Writes go through a temp file and rename so readers never see a torn file.
//   - Values are never logged, only key names.
type FileStore struct {
	mu         sync.RWMutex
	storageDir string
	fileMode   bool
	ready      bool
	values     map[string]string
}

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// StorageDir is the directory holding credentials.json.
	// Defaults to ~/.config/irisctl.
	StorageDir string

	// FileMode enables file persistence. If false, values are in-memory only.
	FileMode bool
}

// defaultStorageDir is DefaultStorageDir under the user's home directory.
func defaultStorageDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, DefaultStorageDir), nil
}

// NewFileStore creates a FileStore. No I/O happens until Ready.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	storageDir := cfg.StorageDir
	if storageDir == "" && cfg.FileMode {
		var err error
		if storageDir, err = defaultStorageDir(); err != nil {
			return nil, err
		}
	}

	return &FileStore{
		storageDir: storageDir,
		fileMode:   cfg.FileMode,
		values:     make(map[string]string),
	}, nil
}

// NewMemoryStore returns a FileStore that never touches the filesystem.
func NewMemoryStore() *FileStore {
	return &FileStore{
		fileMode: false,
		values:   make(map[string]string),
	}
}

// Path returns the credentials file path. It is empty in memory mode.
func (s *FileStore) Path() string {
	if !s.fileMode {
		return ""
	}
	return filepath.Join(s.storageDir, credentialsFileName)
}

// Ready creates the storage directory and loads the credentials file.
func (s *FileStore) Ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}

	if s.fileMode {
		if err := os.MkdirAll(s.storageDir, 0700); err != nil {
			return fmt.Errorf("failed to create credential storage directory: %w", err)
		}
		values, err := s.readFile()
		if err != nil {
			return err
		}
		s.values = values
	}

	s.ready = true
	return nil
}

// Get returns the value stored under key.
func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready {
		return "", false, ErrNotReady
	}
	value, ok := s.values[key]
	return value, ok, nil
}

// Set stores value under key and persists the document in file mode.
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return ErrNotReady
	}

	previous, hadPrevious := s.values[key]
	s.values[key] = value

	if s.fileMode {
		if err := s.writeFileLocked(); err != nil {
			if hadPrevious {
				s.values[key] = previous
			} else {
				delete(s.values, key)
			}
			logging.Audit("credential_store_failed", "credential storage failed",
				"key", key,
				"error", err.Error(),
			)
			return fmt.Errorf("failed to persist %s: %w", key, err)
		}
	}

	logging.Audit("credential_stored", "credential stored", "key", key)
	return nil
}

// Remove deletes key and persists the document in file mode.
func (s *FileStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return ErrNotReady
	}

	previous, ok := s.values[key]
	if !ok {
		return nil
	}
	delete(s.values, key)

	if s.fileMode {
		if err := s.writeFileLocked(); err != nil {
			s.values[key] = previous
			logging.Audit("credential_remove_failed", "credential removal failed",
				"key", key,
				"error", err.Error(),
			)
			return fmt.Errorf("failed to persist removal of %s: %w", key, err)
		}
	}

	logging.Audit("credential_removed", "credential removed", "key", key)
	return nil
}

// Clear removes every stored value.
func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return ErrNotReady
	}

	count := len(s.values)
	s.values = make(map[string]string)

	if s.fileMode {
		err := os.Remove(filepath.Join(s.storageDir, credentialsFileName))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove credentials file: %w", err)
		}
	}

	logging.Audit("credentials_cleared", "all credentials cleared", "count", count)
	return nil
}

// Close is a no-op; the file is closed after every write.
func (s *FileStore) Close() error {
	return nil
}

// Reload re-reads the credentials file, replacing the in-memory values.
// It is a no-op in memory mode.
func (s *FileStore) Reload() error {
	if !s.fileMode {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.readFile()
	if err != nil {
		return err
	}
	s.values = values
	return nil
}

// Watch reloads the store whenever another process rewrites the credentials
// file, for example a login completed from a second shell. It blocks until
// ctx is cancelled.
func (s *FileStore) Watch(ctx context.Context) error {
	if !s.fileMode {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create credentials watcher: %w", err)
	}
	defer watcher.Close()

	// The directory is watched rather than the file because writes replace
	// the file through rename.
	if err := watcher.Add(s.storageDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.storageDir, err)
	}

	target := filepath.Join(s.storageDir, credentialsFileName)
	logging.Debug("CredStore", "Watching %s for external changes", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				logging.Warn("CredStore", "Failed to reload credentials after %s: %v", event.Op, err)
				continue
			}
			logging.Debug("CredStore", "Reloaded credentials after %s", event.Op)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("CredStore", "Credentials watcher error: %v", err)
		}
	}
}

// readFile reads the credentials document. A missing file is an empty store.
func (s *FileStore) readFile() (map[string]string, error) {
	filePath := filepath.Join(s.storageDir, credentialsFileName)

	// #nosec G304 -- path is built from the configured storage dir, not user input
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	values := make(map[string]string)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return values, nil
}

// writeFileLocked persists the current values. Must be called with s.mu held.
func (s *FileStore) writeFileLocked() error {
	filePath := filepath.Join(s.storageDir, credentialsFileName)

	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tmp, err := os.CreateTemp(s.storageDir, credentialsFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, filePath); err != nil {
		return fmt.Errorf("failed to replace credentials file: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
