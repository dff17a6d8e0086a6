package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	defaultDBName = "orgline.db"
	workspaceDir  = ".orgline"
)

// Config locates the journal. Path overrides the workspace default; InMemory
// keeps the journal for the lifetime of the connection only.
type Config struct {
	Workspace string
	Path      string
	InMemory  bool
}

// Path returns the journal path for the workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, defaultDBName)
}

// EnsureWorkspace creates the .orgline directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the journal database. The pure-Go driver serializes writers, so
// one connection keeps concurrent appends from hitting SQLITE_BUSY. It also
// keeps an in-memory journal alive across calls.
func Open(cfg Config) (*sql.DB, error) {
	var dsn string
	switch {
	case cfg.InMemory:
		dsn = "file::memory:?_pragma=busy_timeout(5000)"
	default:
		path := cfg.Path
		if path == "" {
			if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
				return nil, err
			}
			path = Path(cfg.Workspace)
		} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}
