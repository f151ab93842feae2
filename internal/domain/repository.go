package domain

import (
	"context"
	"time"
)

// Repository is the durable audit store: velocity observations, risk
// assessments, block records and terminal payout history. The in-memory
// tracker and queue stay authoritative while records are live; a production
// deployment that needs shared state would move these behind a shared store.
type Repository interface {
	// Velocity observations (audit trail)
	SaveObservation(ctx context.Context, key EntityKey, obs *Observation) error
	GetObservations(ctx context.Context, key EntityKey, since time.Time) ([]Observation, error)

	// Risk assessments (immutable audit artifacts)
	SaveAssessment(ctx context.Context, a *RiskAssessment) error
	GetAssessment(ctx context.Context, id string) (*RiskAssessment, error)

	// Payout requests (terminal history)
	SavePayout(ctx context.Context, p *PayoutRequest) error
	GetPayout(ctx context.Context, id string) (*PayoutRequest, error)
	ListPayouts(ctx context.Context, status PayoutStatus, limit int) ([]*PayoutRequest, error)

	// Block records (audit trail; live blocks are in the ListStore)
	SaveBlockRecord(ctx context.Context, rec *BlockRecord) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user"`
	PostgresPassword string `json:"postgresPassword" yaml:"postgres_password"`
	PostgresDB       string `json:"postgresDb" yaml:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"conn_max_lifetime"`
}
