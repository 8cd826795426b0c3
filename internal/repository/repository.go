// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
// The "none" driver returns a nil repository.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	case "none", "":
		return nil, nil
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

// SaveScore appends a scored result to the audit log.
func (r *SQLRepository) SaveScore(ctx context.Context, res *domain.ScoringResult) error {
	if res == nil || res.ID == "" {
		return fmt.Errorf("%w: score id is required", domain.ErrInvalidInput)
	}
	if res.Failed() {
		return fmt.Errorf("%w: error results are not audited", domain.ErrInvalidInput)
	}

	txData, err := json.Marshal(res.Transaction)
	if err != nil {
		return err
	}
	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO scores (
			id, model_type, model_version, fraud_score, is_fraud,
			raw_score, model_threshold, model_anomaly, status,
			transaction_data, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		res.ID, string(res.ModelType), res.ModelVersion,
		res.FraudScore, boolToInt(res.IsFraud),
		res.RawScore, res.ModelThreshold, boolToInt(res.ModelAnomaly),
		res.Status, string(txData), createdAt,
	)
	return err
}

// GetScore retrieves an audited score by ID.
func (r *SQLRepository) GetScore(ctx context.Context, id string) (*domain.ScoringResult, error) {
	query := `
		SELECT id, model_type, model_version, fraud_score, is_fraud,
			   raw_score, model_threshold, model_anomaly, status,
			   transaction_data, created_at
		FROM scores
		WHERE id = ?
	`

	res, err := scanScore(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListScores returns the most recent audited scores, newest first.
func (r *SQLRepository) ListScores(ctx context.Context, limit int) ([]*domain.ScoringResult, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, model_type, model_version, fraud_score, is_fraud,
			   raw_score, model_threshold, model_anomaly, status,
			   transaction_data, created_at
		FROM scores
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.ScoringResult
	for rows.Next() {
		res, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScore(row rowScanner) (*domain.ScoringResult, error) {
	var res domain.ScoringResult
	var modelType, txData string
	var isFraud, anomalous int

	err := row.Scan(
		&res.ID, &modelType, &res.ModelVersion,
		&res.FraudScore, &isFraud,
		&res.RawScore, &res.ModelThreshold, &anomalous,
		&res.Status, &txData, &res.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	res.ModelType = domain.ModelType(modelType)
	res.IsFraud = isFraud == 1
	res.ModelAnomaly = anomalous == 1
	if txData != "" {
		if err := json.Unmarshal([]byte(txData), &res.Transaction); err != nil {
			return nil, fmt.Errorf("decode transaction for score %s: %w", res.ID, err)
		}
	}
	return &res, nil
}

// SaveModelVersion records a saved version in the catalog.
// Recording the same version and model type twice is a no-op.
func (r *SQLRepository) SaveModelVersion(ctx context.Context, meta *domain.ModelMetadata) error {
	if meta == nil || meta.Version == "" || meta.ModelType == "" {
		return fmt.Errorf("%w: version and model type are required", domain.ErrInvalidInput)
	}

	featuresJSON, _ := json.Marshal(meta.Features)
	var performance sql.NullString
	if meta.Performance != nil {
		data, err := json.Marshal(meta.Performance)
		if err != nil {
			return err
		}
		performance = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO model_versions (
			version, model_type, training_date, contamination_or_threshold,
			n_samples, features, performance
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (version, model_type) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		meta.Version, string(meta.ModelType), meta.TrainingDate.UTC(),
		meta.ContaminationOrThreshold, meta.NSamples,
		string(featuresJSON), performance,
	)
	return err
}

// ListModelVersions lists catalog entries, newest version first.
// An empty model type lists every type.
func (r *SQLRepository) ListModelVersions(ctx context.Context, modelType domain.ModelType) ([]*domain.ModelMetadata, error) {
	query := `
		SELECT version, model_type, training_date, contamination_or_threshold,
			   n_samples, features, performance
		FROM model_versions
	`
	var args []any
	if modelType != "" {
		query += " WHERE model_type = ?"
		args = append(args, string(modelType))
	}
	query += " ORDER BY version DESC, model_type"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ModelMetadata
	for rows.Next() {
		var meta domain.ModelMetadata
		var kind, featuresJSON string
		var performance sql.NullString

		if err := rows.Scan(
			&meta.Version, &kind, &meta.TrainingDate,
			&meta.ContaminationOrThreshold, &meta.NSamples,
			&featuresJSON, &performance,
		); err != nil {
			return nil, err
		}

		meta.ModelType = domain.ModelType(kind)
		json.Unmarshal([]byte(featuresJSON), &meta.Features)
		if performance.Valid && performance.String != "" {
			var report domain.ClassificationReport
			if err := json.Unmarshal([]byte(performance.String), &report); err == nil {
				meta.Performance = &report
			}
		}
		out = append(out, &meta)
	}
	return out, rows.Err()
}

// GetAlias returns the version an alias points to.
func (r *SQLRepository) GetAlias(ctx context.Context, name string) (string, error) {
	query := `SELECT version FROM model_aliases WHERE name = ?`

	var version string
	err := r.db.QueryRowContext(ctx, r.rebind(query), name).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", domain.ErrAliasNotSet, name)
	}
	if err != nil {
		return "", err
	}
	return version, nil
}

// SetAlias points an alias at a version in a single upsert.
func (r *SQLRepository) SetAlias(ctx context.Context, name, version string) error {
	if name == "" || version == "" {
		return fmt.Errorf("%w: alias name and version are required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO model_aliases (name, version, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			version = excluded.version,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), name, version, time.Now().UTC())
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

	// Convert ? to $1, $2, etc.
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
