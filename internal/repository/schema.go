package repository

// Schema definitions for the merlin database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    payment_method TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    ip_address TEXT,
    device_fingerprint TEXT,
    country TEXT,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL UNIQUE,
    fraud_score REAL NOT NULL,
    decision TEXT NOT NULL,
    confidence REAL NOT NULL,
    risk_factors TEXT NOT NULL,
    component_scores TEXT NOT NULL,
    model_version TEXT NOT NULL,
    processed_at TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_decision ON assessments(decision);
CREATE INDEX IF NOT EXISTS idx_assessments_processed ON assessments(processed_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaAssessments,
	}
}
