package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *RunStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	s, err := NewRunStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRun(id, period string, at time.Time) RunRecord {
	return RunRecord{
		RunID:                id,
		Period:               period,
		BudgetTotalCents:     1_000_000,
		Currency:             "EUR",
		CoverageSum:          1.5,
		CoverageInconsistent: false,
		EntityCount:          4,
		PaidOutTotalCents:    1_000_000,
		ReceiptsChainRoot:    "aaaa",
		PayoutsChainRoot:     "bbbb",
		BundleHash:           "cccc",
		CreatedAt:            at,
	}
}

func TestInsertAndLatest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, sampleRun("run-1", "2026-01", base)))
	require.NoError(t, s.Insert(ctx, sampleRun("run-2", "2026-01", base.Add(time.Hour))))

	got, err := s.Latest(ctx, "2026-01")
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)
	assert.Equal(t, int64(1_000_000), got.BudgetTotalCents)
	assert.Equal(t, "cccc", got.BundleHash)
	assert.False(t, got.CoverageInconsistent)
}

func TestLatestNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Latest(context.Background(), "1999-01")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertPersistsCoverageFlag(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := sampleRun("run-f", "2026-03", time.Now().UTC())
	r.CoverageInconsistent = true
	require.NoError(t, s.Insert(ctx, r))

	got, err := s.Latest(ctx, "2026-03")
	require.NoError(t, err)
	assert.True(t, got.CoverageInconsistent)
}

func TestList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Insert(ctx, sampleRun("run-1", "2025-12", base)))
	require.NoError(t, s.Insert(ctx, sampleRun("run-2", "2026-01", base.Add(time.Hour))))
	require.NoError(t, s.Insert(ctx, sampleRun("run-3", "2026-02", base.Add(2*time.Hour))))

	runs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].RunID)
	assert.Equal(t, "run-2", runs[1].RunID)
}

func TestDuplicateRunIDRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC()
	require.NoError(t, s.Insert(ctx, sampleRun("run-1", "2026-01", at)))
	assert.Error(t, s.Insert(ctx, sampleRun("run-1", "2026-01", at)))
}

func TestInsertPropagatesDriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS settlement_runs").
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewRunStore(db)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO settlement_runs").
		WillReturnError(errors.New("disk I/O error"))

	err = s.Insert(context.Background(), sampleRun("run-x", "2026-01", time.Now().UTC()))
	assert.ErrorContains(t, err, "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}
