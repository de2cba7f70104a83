package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xo/dburl"
	_ "modernc.org/sqlite"
)

const defaultDBName = "queueline.db"

type Config struct {
	Workspace string
	// URL overrides the workspace database, e.g. sqlite:/var/lib/queueline.db.
	URL string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".queueline", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".queueline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// DSN resolves the driver DSN for cfg. Only SQLite URLs are supported.
func DSN(cfg Config) (string, error) {
	var path string
	if cfg.URL == "" {
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return "", err
		}
		path = dbPath(cfg.Workspace)
	} else {
		u, err := dburl.Parse(cfg.URL)
		if err != nil {
			return "", fmt.Errorf("parse database url: %w", err)
		}
		switch u.Driver {
		case "sqlite3", "sqlite":
		default:
			return "", fmt.Errorf("unsupported database driver %q", u.Driver)
		}
		path = strings.TrimPrefix(u.DSN, "file:")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)", nil
}

// Open opens the SQLite database with foreign keys on. SQLite has a single
// writer, so the pool is limited to one connection and every caller queues on it.
func Open(cfg Config) (*sql.DB, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
