// Package store persists the settlement-run journal: one row per completed
// period run with the figures an operator needs to answer "what did we settle
// and what anchors it". The journal is bookkeeping, not evidence; evidence
// lives in the bundle.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no run is journaled for a period.
var ErrNotFound = errors.New("not found")

// RunRecord is one journaled settlement run.
type RunRecord struct {
	RunID                string    `json:"run_id"`
	Period               string    `json:"period"`
	BudgetTotalCents     int64     `json:"budget_total_cents"`
	Currency             string    `json:"currency"`
	CoverageSum          float64   `json:"coverage_sum"`
	CoverageInconsistent bool      `json:"coverage_inconsistent"`
	EntityCount          int       `json:"entity_count"`
	PaidOutTotalCents    int64     `json:"paid_out_total_cents"`
	ReceiptsChainRoot    string    `json:"receipts_chain_root"`
	PayoutsChainRoot     string    `json:"payouts_chain_root"`
	BundleHash           string    `json:"bundle_hash"`
	CreatedAt            time.Time `json:"created_at"`
}

// RunStore journals settlement runs in sqlite.
type RunStore struct {
	db *sql.DB
}

// Open opens (or creates) the journal at path and migrates the schema.
func Open(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return NewRunStore(db)
}

// NewRunStore wraps an existing database handle. Exposed for tests.
func NewRunStore(db *sql.DB) (*RunStore, error) {
	s := &RunStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RunStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS settlement_runs (
        run_id TEXT PRIMARY KEY,
        period TEXT NOT NULL,
        budget_total_cents INTEGER NOT NULL,
        currency TEXT NOT NULL,
        coverage_sum REAL NOT NULL,
        coverage_inconsistent INTEGER NOT NULL DEFAULT 0,
        entity_count INTEGER NOT NULL,
        paid_out_total_cents INTEGER NOT NULL,
        receipts_chain_root TEXT,
        payouts_chain_root TEXT,
        bundle_hash TEXT,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_settlement_runs_period ON settlement_runs(period);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Insert journals one completed run.
func (s *RunStore) Insert(ctx context.Context, r RunRecord) error {
	query := `
        INSERT INTO settlement_runs
            (run_id, period, budget_total_cents, currency, coverage_sum,
             coverage_inconsistent, entity_count, paid_out_total_cents,
             receipts_chain_root, payouts_chain_root, bundle_hash, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.ExecContext(ctx, query,
		r.RunID, r.Period, r.BudgetTotalCents, r.Currency, r.CoverageSum,
		boolToInt(r.CoverageInconsistent), r.EntityCount, r.PaidOutTotalCents,
		r.ReceiptsChainRoot, r.PayoutsChainRoot, r.BundleHash, r.CreatedAt.UTC())
	return err
}

// Latest returns the most recent run journaled for a period.
func (s *RunStore) Latest(ctx context.Context, period string) (*RunRecord, error) {
	query := `
        SELECT run_id, period, budget_total_cents, currency, coverage_sum,
               coverage_inconsistent, entity_count, paid_out_total_cents,
               receipts_chain_root, payouts_chain_root, bundle_hash, created_at
        FROM settlement_runs
        WHERE period = ?
        ORDER BY created_at DESC
        LIMIT 1
    `
	row := s.db.QueryRowContext(ctx, query, period)
	return scanRun(row)
}

// List returns the most recent runs across all periods.
func (s *RunStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `
        SELECT run_id, period, budget_total_cents, currency, coverage_sum,
               coverage_inconsistent, entity_count, paid_out_total_cents,
               receipts_chain_root, payouts_chain_root, bundle_hash, created_at
        FROM settlement_runs
        ORDER BY created_at DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var inconsistent int
		if err := rows.Scan(&r.RunID, &r.Period, &r.BudgetTotalCents, &r.Currency,
			&r.CoverageSum, &inconsistent, &r.EntityCount, &r.PaidOutTotalCents,
			&r.ReceiptsChainRoot, &r.PayoutsChainRoot, &r.BundleHash, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CoverageInconsistent = inconsistent != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *RunStore) Close() error {
	return s.db.Close()
}

func scanRun(row *sql.Row) (*RunRecord, error) {
	var r RunRecord
	var inconsistent int
	err := row.Scan(&r.RunID, &r.Period, &r.BudgetTotalCents, &r.Currency,
		&r.CoverageSum, &inconsistent, &r.EntityCount, &r.PaidOutTotalCents,
		&r.ReceiptsChainRoot, &r.PayoutsChainRoot, &r.BundleHash, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.CoverageInconsistent = inconsistent != 0
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
