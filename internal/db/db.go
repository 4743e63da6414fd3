package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	stateDir      = ".gitea-workflow"
	defaultDBName = "workflow.db"
)

type Config struct {
	Workspace string
	// Path overrides the workspace-derived location when set.
	Path string
}

func (c Config) path() string {
	if c.Path != "" {
		return c.Path
	}
	return Path(c.Workspace)
}

// Path returns the run-history database path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, stateDir, defaultDBName)
}

// Open opens the SQLite database, creating its directory if needed.
// A single connection is used so writers never contend for the file lock.
func Open(cfg Config) (*sql.DB, error) {
	path := cfg.path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}
