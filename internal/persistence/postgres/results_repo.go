// Package postgres implements the results repository on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/crml-dev/crmlrun/internal/persistence"
)

const schema = `
CREATE TABLE IF NOT EXISTS simulation_results (
	id             BIGSERIAL PRIMARY KEY,
	run_id         TEXT NOT NULL UNIQUE,
	portfolio_name TEXT NOT NULL,
	runs           INTEGER NOT NULL,
	seed           BIGINT,
	currency       TEXT NOT NULL,
	eal            DOUBLE PRECISION NOT NULL,
	var_95         DOUBLE PRECISION NOT NULL,
	var_99         DOUBLE PRECISION NOT NULL,
	var_999        DOUBLE PRECISION NOT NULL,
	envelope       JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_simulation_results_portfolio
	ON simulation_results (portfolio_name, created_at DESC);`

// resultsRepo implements persistence.ResultsRepo for PostgreSQL
type resultsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Connect opens a PostgreSQL connection pool and ensures the results schema
// exists.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure results schema: %w", err)
	}
	return db, nil
}

// NewResultsRepo creates a new PostgreSQL results repository
func NewResultsRepo(db *sqlx.DB, timeout time.Duration) persistence.ResultsRepo {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &resultsRepo{db: db, timeout: timeout}
}

// Save inserts one simulation result record
func (r *resultsRepo) Save(ctx context.Context, record *persistence.ResultRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO simulation_results
			(run_id, portfolio_name, runs, seed, currency, eal, var_95, var_99, var_999, envelope)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		record.RunID, record.PortfolioName, record.Runs, record.Seed, record.Currency,
		record.EAL, record.VaR95, record.VaR99, record.VaR999, record.Envelope).
		Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// Latest returns the most recent results for a portfolio, newest first
func (r *resultsRepo) Latest(ctx context.Context, portfolioName string, limit int) ([]persistence.ResultRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}
	var records []persistence.ResultRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM simulation_results
		WHERE portfolio_name = $1
		ORDER BY created_at DESC
		LIMIT $2`, portfolioName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	return records, nil
}

// GetByRunID fetches a single result by its envelope run id
func (r *resultsRepo) GetByRunID(ctx context.Context, runID string) (*persistence.ResultRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var record persistence.ResultRecord
	err := r.db.GetContext(ctx, &record, `
		SELECT * FROM simulation_results WHERE run_id = $1`, runID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("result %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query result: %w", err)
	}
	return &record, nil
}
