package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	_ "modernc.org/sqlite"
)

// sqlitePragmas is carried in the DSN so every pooled connection gets the
// same settings. WAL keeps the worker's writes from stalling API reads; the
// busy timeout covers the brief write lock during checkpoints.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(10000)",
	"foreign_keys(ON)",
	"cache_size(-8000)",
}

func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "kestrel.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %s: %w", dir, err)
		}
	}

	dsn := "file:" + path + "?_pragma=" + strings.Join(sqlitePragmas, "&_pragma=")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}

	// WAL still allows only one writer at a time; a single pooled connection
	// sidesteps busy errors between the worker and the API entirely.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite at %s: %w", path, err)
	}
	return db, nil
}
