package repository

// Schema definitions for the Kestrel audit store.
// Compatible with both SQLite and PostgreSQL.

const schemaObservations = `
CREATE TABLE IF NOT EXISTS observations (
    entity_kind TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    amount REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    outcome TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_entity ON observations(entity_kind, entity_id, timestamp);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    candidate_id TEXT NOT NULL,
    score REAL NOT NULL,
    tier TEXT NOT NULL,
    action TEXT NOT NULL,
    category_scores TEXT NOT NULL,
    triggered_rules TEXT,
    evidence TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_candidate ON assessments(candidate_id);
CREATE INDEX IF NOT EXISTS idx_assessments_created ON assessments(created_at);
`

const schemaPayoutRequests = `
CREATE TABLE IF NOT EXISTS payout_requests (
    id TEXT PRIMARY KEY,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    priority TEXT NOT NULL,
    destination TEXT NOT NULL,
    entities TEXT NOT NULL,
    risk_score REAL NOT NULL DEFAULT 0,
    original_amount REAL NOT NULL DEFAULT 0,
    reduction_reason TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    scheduled_at TIMESTAMP,
    completed_at TIMESTAMP,
    reference_id TEXT,
    last_error TEXT,
    processing_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_payout_requests_status ON payout_requests(status);
CREATE INDEX IF NOT EXISTS idx_payout_requests_created ON payout_requests(created_at);
`

const schemaBlockRecords = `
CREATE TABLE IF NOT EXISTS block_records (
    entity_kind TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    reason TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_block_records_entity ON block_records(entity_kind, entity_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaObservations,
		schemaAssessments,
		schemaPayoutRequests,
		schemaBlockRecords,
	}
}
