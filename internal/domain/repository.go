// Package domain defines the core interfaces and types for Merlin.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence. The engine treats
// storage as an opaque read/write capability: transactions in, assessments
// out, plus the history reads that seed velocity windows and feature
// sequences on cold start.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	RecentTransactions(ctx context.Context, userID int64, since time.Time) ([]*Transaction, error)

	// Assessment operations
	SaveAssessment(ctx context.Context, a *FraudAssessment) error
	GetAssessment(ctx context.Context, assessmentID string) (*FraudAssessment, error)
	GetAssessmentByTransaction(ctx context.Context, txID string) (*FraudAssessment, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
