package session

import (
	"fmt"
	"log/slog"
	"path/filepath"
)

// Storage backends accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open creates the Store named by backend. An empty backend selects the
// file store; an empty sqlitePath defaults to dataDir/history.db.
func Open(backend, dataDir, sqlitePath string, logger *slog.Logger) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(dataDir, logger)
	case BackendSQLite:
		if sqlitePath == "" {
			sqlitePath = filepath.Join(dataDir, "history.db")
		}
		return NewSQLiteStore(sqlitePath, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", backend)
	}
}
