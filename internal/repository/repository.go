// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveObservation appends one velocity observation to the audit trail.
func (r *SQLRepository) SaveObservation(ctx context.Context, key domain.EntityKey, obs *domain.Observation) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	query := `
		INSERT INTO observations (
			entity_kind, entity_id, amount, timestamp, outcome, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		string(key.Kind), key.ID,
		obs.Amount, obs.Timestamp, string(obs.Outcome),
		time.Now().UTC(),
	)
	return err
}

// GetObservations retrieves an entity's observations since a point in time,
// oldest first.
func (r *SQLRepository) GetObservations(ctx context.Context, key domain.EntityKey, since time.Time) ([]domain.Observation, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	query := `
		SELECT amount, timestamp, outcome
		FROM observations
		WHERE entity_kind = ? AND entity_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(key.Kind), key.ID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		var obs domain.Observation
		var outcome string
		if err := rows.Scan(&obs.Amount, &obs.Timestamp, &outcome); err != nil {
			return nil, err
		}
		obs.Outcome = domain.ObservationOutcome(outcome)
		out = append(out, obs)
	}
	return out, rows.Err()
}

// SaveAssessment stores a risk assessment. Assessments are immutable audit
// artifacts, so this is insert-only.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.RiskAssessment) error {
	if a.ID == "" {
		return fmt.Errorf("%w: assessment id is required", domain.ErrInvalidInput)
	}

	categoryScores, _ := json.Marshal(a.CategoryScores)
	triggeredRules, _ := json.Marshal(a.TriggeredRules)
	evidence, _ := json.Marshal(a.Evidence)

	query := `
		INSERT INTO assessments (
			id, candidate_id, score, tier, action,
			category_scores, triggered_rules, evidence, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.CandidateID, a.Score, string(a.Tier), string(a.Action),
		string(categoryScores), string(triggeredRules), string(evidence),
		a.CreatedAt,
	)
	return err
}

// GetAssessment retrieves an assessment by ID.
func (r *SQLRepository) GetAssessment(ctx context.Context, id string) (*domain.RiskAssessment, error) {
	query := `
		SELECT id, candidate_id, score, tier, action,
			   category_scores, triggered_rules, evidence, created_at
		FROM assessments
		WHERE id = ?
	`

	var a domain.RiskAssessment
	var tier, action string
	var categoryScores, triggeredRules, evidence string

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&a.ID, &a.CandidateID, &a.Score, &tier, &action,
		&categoryScores, &triggeredRules, &evidence, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Tier = domain.RiskTier(tier)
	a.Action = domain.RiskAction(action)
	json.Unmarshal([]byte(categoryScores), &a.CategoryScores)
	json.Unmarshal([]byte(triggeredRules), &a.TriggeredRules)
	json.Unmarshal([]byte(evidence), &a.Evidence)

	return &a, nil
}

// SavePayout upserts a payout request. Called on every status transition, so
// the stored row always reflects the latest state.
func (r *SQLRepository) SavePayout(ctx context.Context, p *domain.PayoutRequest) error {
	if p.ID == "" {
		return fmt.Errorf("%w: payout id is required", domain.ErrInvalidInput)
	}

	destination, _ := json.Marshal(p.Destination)
	entities, _ := json.Marshal(p.Entities)

	query := `
		INSERT INTO payout_requests (
			id, amount, currency, priority, destination, entities,
			risk_score, original_amount, reduction_reason,
			attempts, max_retries, status,
			created_at, scheduled_at, completed_at,
			reference_id, last_error, processing_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			attempts = excluded.attempts,
			status = excluded.status,
			scheduled_at = excluded.scheduled_at,
			completed_at = excluded.completed_at,
			reference_id = excluded.reference_id,
			last_error = excluded.last_error,
			processing_ms = excluded.processing_ms
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, p.Amount, p.Currency, string(p.Priority),
		string(destination), string(entities),
		p.RiskScore, p.OriginalAmount, p.ReductionReason,
		p.Attempts, p.MaxRetries, string(p.Status),
		p.CreatedAt, p.ScheduledAt, p.CompletedAt,
		p.ReferenceID, p.LastError, p.ProcessingMs,
	)
	return err
}

// GetPayout retrieves a payout request by ID.
func (r *SQLRepository) GetPayout(ctx context.Context, id string) (*domain.PayoutRequest, error) {
	query := `
		SELECT id, amount, currency, priority, destination, entities,
			   risk_score, original_amount, reduction_reason,
			   attempts, max_retries, status,
			   created_at, scheduled_at, completed_at,
			   reference_id, last_error, processing_ms
		FROM payout_requests
		WHERE id = ?
	`

	p, err := scanPayout(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return p, err
}

// ListPayouts retrieves recent payouts, optionally filtered by status.
func (r *SQLRepository) ListPayouts(ctx context.Context, status domain.PayoutStatus, limit int) ([]*domain.PayoutRequest, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, amount, currency, priority, destination, entities,
			   risk_score, original_amount, reduction_reason,
			   attempts, max_retries, status,
			   created_at, scheduled_at, completed_at,
			   reference_id, last_error, processing_ms
		FROM payout_requests
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PayoutRequest
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayout(row rowScanner) (*domain.PayoutRequest, error) {
	var p domain.PayoutRequest
	var priority, status string
	var destination, entities string
	var reductionReason, referenceID, lastError sql.NullString
	var scheduledAt, completedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.Amount, &p.Currency, &priority,
		&destination, &entities,
		&p.RiskScore, &p.OriginalAmount, &reductionReason,
		&p.Attempts, &p.MaxRetries, &status,
		&p.CreatedAt, &scheduledAt, &completedAt,
		&referenceID, &lastError, &p.ProcessingMs,
	)
	if err != nil {
		return nil, err
	}

	p.Priority = domain.Priority(priority)
	p.Status = domain.PayoutStatus(status)
	p.ReductionReason = reductionReason.String
	p.ReferenceID = referenceID.String
	p.LastError = lastError.String
	if scheduledAt.Valid {
		t := scheduledAt.Time
		p.ScheduledAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	json.Unmarshal([]byte(destination), &p.Destination)
	json.Unmarshal([]byte(entities), &p.Entities)

	return &p, nil
}

// SaveBlockRecord appends a block record to the audit trail.
func (r *SQLRepository) SaveBlockRecord(ctx context.Context, rec *domain.BlockRecord) error {
	if err := rec.Entity.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	query := `
		INSERT INTO block_records (
			entity_kind, entity_id, reason, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		string(rec.Entity.Kind), rec.Entity.ID,
		rec.Reason, rec.CreatedAt, rec.ExpiresAt,
	)
	return err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
