package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// openPostgres connects using the keyword/value DSN form so optional
// credentials can simply be omitted instead of sent empty.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "kestrel"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	parts := []string{
		"host=" + host,
		fmt.Sprintf("port=%d", port),
		"dbname=" + dbname,
		"sslmode=" + sslmode,
		"connect_timeout=5",
	}
	if cfg.PostgresUser != "" {
		parts = append(parts, "user="+cfg.PostgresUser)
	}
	if cfg.PostgresPassword != "" {
		parts = append(parts, "password="+cfg.PostgresPassword)
	}

	db, err := sql.Open("postgres", strings.Join(parts, " "))
	if err != nil {
		return nil, fmt.Errorf("open postgres %s/%s: %w", host, dbname, err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres %s/%s: %w", host, dbname, err)
	}
	return db, nil
}
