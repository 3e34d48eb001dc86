// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
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

// SaveTransaction stores a transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, user_id, amount, currency, merchant_id, payment_method,
			timestamp, created_at, ip_address, device_fingerprint, country, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.TransactionID, tx.UserID, tx.Amount, tx.Currency,
		tx.MerchantID, tx.PaymentMethod,
		tx.Timestamp, tx.CreatedAt,
		tx.IPAddress, tx.DeviceFingerprint, tx.Country,
		string(metadata),
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, user_id, amount, currency, merchant_id, payment_method,
			   timestamp, created_at, ip_address, device_fingerprint, country, metadata
		FROM transactions
		WHERE id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), txID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return tx, err
}

// RecentTransactions retrieves a user's transactions since the given time,
// newest first.
func (r *SQLRepository) RecentTransactions(ctx context.Context, userID int64, since time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT id, user_id, amount, currency, merchant_id, payment_method,
			   timestamp, created_at, ip_address, device_fingerprint, country, metadata
		FROM transactions
		WHERE user_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// SaveAssessment stores an assessment. The tx_id unique constraint keeps
// one assessment per transaction; a duplicate insert is a no-op.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.FraudAssessment) error {
	riskFactors, _ := json.Marshal(a.RiskFactors)
	componentScores, _ := json.Marshal(a.ComponentScores)
	metadata, _ := json.Marshal(a.Metadata)

	query := `
		INSERT INTO assessments (
			id, tx_id, fraud_score, decision, confidence,
			risk_factors, component_scores, model_version, processed_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.AssessmentID, a.TransactionID, a.FraudScore, string(a.Decision), a.ConfidenceLevel,
		string(riskFactors), string(componentScores),
		a.ModelVersion, a.ProcessedAt, string(metadata),
	)
	return err
}

// GetAssessment retrieves an assessment by its ID.
func (r *SQLRepository) GetAssessment(ctx context.Context, assessmentID string) (*domain.FraudAssessment, error) {
	query := assessmentSelect + ` WHERE id = ?`
	return r.queryAssessment(ctx, query, assessmentID)
}

// GetAssessmentByTransaction retrieves the assessment for a transaction.
func (r *SQLRepository) GetAssessmentByTransaction(ctx context.Context, txID string) (*domain.FraudAssessment, error) {
	query := assessmentSelect + ` WHERE tx_id = ?`
	return r.queryAssessment(ctx, query, txID)
}

const assessmentSelect = `
	SELECT id, tx_id, fraud_score, decision, confidence,
		   risk_factors, component_scores, model_version, processed_at, metadata
	FROM assessments
`

func (r *SQLRepository) queryAssessment(ctx context.Context, query string, arg any) (*domain.FraudAssessment, error) {
	var a domain.FraudAssessment
	var decision, riskFactors, componentScores, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), arg).Scan(
		&a.AssessmentID, &a.TransactionID, &a.FraudScore, &decision, &a.ConfidenceLevel,
		&riskFactors, &componentScores, &a.ModelVersion, &a.ProcessedAt, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Decision = domain.Decision(decision)
	json.Unmarshal([]byte(riskFactors), &a.RiskFactors)
	json.Unmarshal([]byte(componentScores), &a.ComponentScores)
	json.Unmarshal([]byte(metadata), &a.Metadata)

	return &a, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var metadata string

	if err := s.Scan(
		&tx.TransactionID, &tx.UserID, &tx.Amount, &tx.Currency,
		&tx.MerchantID, &tx.PaymentMethod,
		&tx.Timestamp, &tx.CreatedAt,
		&tx.IPAddress, &tx.DeviceFingerprint, &tx.Country,
		&metadata,
	); err != nil {
		return nil, err
	}

	if metadata != "" {
		json.Unmarshal([]byte(metadata), &tx.Metadata)
	}

	return &tx, nil
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
