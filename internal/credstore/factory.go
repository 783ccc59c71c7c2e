package credstore

import (
	"fmt"
	"path/filepath"
)

// Backend names accepted by New.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// sqliteFileName is the database file used when the sqlite backend is given
// a directory.
const sqliteFileName = "credentials.db"

// Config selects and configures a backend.
type Config struct {
	// Backend is one of BackendFile, BackendSQLite or BackendMemory.
	// Empty means BackendFile.
	Backend string

	// Path is the storage directory for the file and sqlite backends.
	Path string
}

// New builds the Store described by cfg.
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFile:
		return NewFileStore(FileStoreConfig{StorageDir: cfg.Path, FileMode: true})
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		dir := cfg.Path
		if dir == "" {
			var err error
			if dir, err = defaultStorageDir(); err != nil {
				return nil, err
			}
		}
		return NewSQLiteStore(filepath.Join(dir, sqliteFileName)), nil
	default:
		return nil, fmt.Errorf("unknown credential store backend %q", cfg.Backend)
	}
}
