package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"cloudpico-thermo/internal/config"

	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

// memoryPath opens a private in-memory store, used by tests and dry runs.
const memoryPath = ":memory:"

// pragmas are applied through go-sqlite3 DSN parameters on every connection.
var pragmas = [][2]string{
	{"_busy_timeout", "5000"},
	{"_foreign_keys", "on"},
	{"_journal_mode", "WAL"},
	{"_synchronous", "NORMAL"},
}

// Open returns the reading store handle. The pool is capped at
// cfg.SQLiteMaxOpenConns; in-memory stores are pinned to a single connection
// so every query sees the same database.
func Open(cfg config.Config) (*sql.DB, error) {
	dsn, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open reading store: %w", err)
	}

	maxConns := cfg.SQLiteMaxOpenConns
	if isMemory(cfg) {
		maxConns = 1
	}
	if maxConns > 0 {
		conn.SetMaxOpenConns(maxConns)
		conn.SetMaxIdleConns(maxConns)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping reading store: %w", err)
	}
	return conn, nil
}

func Close(conn *sql.DB) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func isMemory(cfg config.Config) bool {
	return cfg.SQLiteDSN == "" && cfg.SQLitePath == memoryPath
}

// dataSource resolves the DSN: an explicit DB_DSN wins, otherwise
// SQLITE_PATH gets the pragma set appended and its directory created.
func dataSource(cfg config.Config) (string, error) {
	if cfg.SQLiteDSN != "" {
		return cfg.SQLiteDSN, nil
	}

	path := cfg.SQLitePath
	if path == "" {
		return "", fmt.Errorf("sqlite path is empty")
	}

	q := url.Values{}
	for _, p := range pragmas {
		q.Set(p[0], p[1])
	}

	if path == memoryPath {
		q.Del("_journal_mode")
		return "file::memory:?" + q.Encode(), nil
	}

	base := path
	if strings.HasPrefix(path, "file:") {
		base, _, _ = strings.Cut(strings.TrimPrefix(path, "file:"), "?")
	}
	if dir := filepath.Dir(base); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + q.Encode(), nil
	}
	return "file:" + path + "?" + q.Encode(), nil
}
