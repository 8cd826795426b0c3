package repository

// Schema definitions for the fraudscore database.
// Compatible with both SQLite and PostgreSQL.

const schemaScores = `
CREATE TABLE IF NOT EXISTS scores (
    id TEXT PRIMARY KEY,
    model_type TEXT NOT NULL,
    model_version TEXT NOT NULL,
    fraud_score INTEGER NOT NULL,
    is_fraud INTEGER NOT NULL,
    raw_score REAL NOT NULL,
    model_threshold REAL NOT NULL,
    model_anomaly INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    transaction_data TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scores_created ON scores(created_at);
CREATE INDEX IF NOT EXISTS idx_scores_status ON scores(status);
`

// schemaModelVersions is the catalog of saved model versions.
// Rows are written once per (version, model_type) and never updated.
const schemaModelVersions = `
CREATE TABLE IF NOT EXISTS model_versions (
    version TEXT NOT NULL,
    model_type TEXT NOT NULL,
    training_date TIMESTAMP NOT NULL,
    contamination_or_threshold REAL NOT NULL,
    n_samples INTEGER NOT NULL,
    features TEXT NOT NULL,
    performance TEXT,
    PRIMARY KEY (version, model_type)
);

CREATE INDEX IF NOT EXISTS idx_model_versions_type ON model_versions(model_type);
`

const schemaModelAliases = `
CREATE TABLE IF NOT EXISTS model_aliases (
    name TEXT PRIMARY KEY,
    version TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaScores,
		schemaModelVersions,
		schemaModelAliases,
	}
}
