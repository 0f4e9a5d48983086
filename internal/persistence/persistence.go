// Package persistence defines the storage contracts for simulation results.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crml-dev/crmlrun/internal/lang"
)

// ResultRecord is one stored simulation run, flattened for querying with the
// full envelope preserved as JSON.
type ResultRecord struct {
	ID            int64     `db:"id" json:"id"`
	RunID         string    `db:"run_id" json:"run_id"`
	PortfolioName string    `db:"portfolio_name" json:"portfolio_name"`
	Runs          int       `db:"runs" json:"runs"`
	Seed          *int64    `db:"seed" json:"seed,omitempty"`
	Currency      string    `db:"currency" json:"currency"`
	EAL           float64   `db:"eal" json:"eal"`
	VaR95         float64   `db:"var_95" json:"var_95"`
	VaR99         float64   `db:"var_99" json:"var_99"`
	VaR999        float64   `db:"var_999" json:"var_999"`
	Envelope      []byte    `db:"envelope" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ResultsRepo stores and retrieves simulation results.
type ResultsRepo interface {
	Save(ctx context.Context, record *ResultRecord) error
	Latest(ctx context.Context, portfolioName string, limit int) ([]ResultRecord, error)
	GetByRunID(ctx context.Context, runID string) (*ResultRecord, error)
}

// RecordFromEnvelope flattens a result envelope into a storable record.
func RecordFromEnvelope(env *lang.ResultEnvelope) (*ResultRecord, error) {
	if env == nil || !env.Success {
		return nil, fmt.Errorf("only successful results are persisted")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	record := &ResultRecord{
		RunID:         env.Run.ID,
		PortfolioName: env.Inputs.ModelName,
		Runs:          env.Run.Runs,
		Seed:          env.Run.Seed,
		Envelope:      payload,
	}
	if env.Units != nil {
		record.Currency = env.Units.Currency.Code
	}
	for _, m := range env.Results.Measures {
		switch {
		case m.ID == lang.MeasureEAL:
			record.EAL = m.Value
		case m.ID == lang.MeasureVaR && m.Parameters != nil:
			switch m.Parameters["level"] {
			case 0.95:
				record.VaR95 = m.Value
			case 0.99:
				record.VaR99 = m.Value
			case 0.999:
				record.VaR999 = m.Value
			}
		}
	}
	return record, nil
}
