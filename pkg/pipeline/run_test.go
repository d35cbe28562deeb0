package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crovia-labs/crovia-core/pkg/audit"
	"github.com/crovia-labs/crovia-core/pkg/bundle"
	"github.com/crovia-labs/crovia-core/pkg/contracts"
	"github.com/crovia-labs/crovia-core/pkg/hashchain"
	"github.com/crovia-labs/crovia-core/pkg/store"
)

const testRegistry = `{
  "providers": [
    {"provider_id": "prov-a", "coverage_bound": 0.70, "eligible": true},
    {"provider_id": "prov-b", "coverage_bound": 0.50, "eligible": true},
    {"provider_id": "prov-c", "coverage_bound": 0.25, "eligible": true},
    {"provider_id": "prov-d", "coverage_bound": 0.05, "eligible": true}
  ]
}`

func writeInputs(t *testing.T) (receiptsPath, providersPath string) {
	t.Helper()
	dir := t.TempDir()
	receiptsPath = filepath.Join(dir, "receipts.ndjson")
	providersPath = filepath.Join(dir, "providers.json")

	var rows []string
	for i := 0; i < 50; i++ {
		rows = append(rows, fmt.Sprintf(
			`{"schema":"royalty_receipt.v1","timestamp":"2026-01-%02dT10:00:00Z","top_k":[{"provider_id":"prov-a","shard_id":"s1","share":0.5},{"provider_id":"prov-b","shard_id":"s2","share":0.3},{"provider_id":"prov-c","shard_id":"s3","share":0.2}]}`,
			i%28+1))
	}
	require.NoError(t, os.WriteFile(receiptsPath, []byte(strings.Join(rows, "\n")+"\n"), 0o644))
	require.NoError(t, os.WriteFile(providersPath, []byte(testRegistry), 0o644))
	return receiptsPath, providersPath
}

func TestRunEndToEnd(t *testing.T) {
	receiptsPath, providersPath := writeInputs(t)
	outDir := filepath.Join(t.TempDir(), "out")

	res, err := Run(context.Background(), Options{
		Period:           "2026-01",
		BudgetTotalCents: 1_000_000,
		Currency:         "EUR",
		ReceiptsPath:     receiptsPath,
		ProvidersPath:    providersPath,
		OutDir:           outDir,
		ChunkSize:        512,
		ProducerID:       "crovia-core/test",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.False(t, res.CoverageInconsistent)
	assert.Equal(t, 4, res.EntityCount)
	assert.Equal(t, 50, res.Stats.Accepted)

	// Floors for coverage 0.70/0.50/0.25/0.05: only prov-a is unavoidable.
	fa, err := ReadFloorArtifact(res.FloorsPath)
	require.NoError(t, err)
	floors := fa.FloorsByProvider()
	assert.Equal(t, contracts.Cents(200_000), floors["prov-a"])
	assert.Equal(t, contracts.Cents(0), floors["prov-b"])

	// Payouts balance and respect the floor.
	records, err := ReadPayoutArtifact(res.PayoutsPath)
	require.NoError(t, err)
	var sum contracts.Cents
	for _, r := range records {
		sum += r.AmountCents
	}
	assert.Equal(t, contracts.Cents(1_000_000), sum)
	require.NoError(t, verifyFloorsRespected(records, fa))

	// Both chains verify against their sources.
	for source, chainPath := range map[string]string{
		receiptsPath:    res.ReceiptsChainPath,
		res.PayoutsPath: res.PayoutsChainPath,
	} {
		vr, err := hashchain.VerifyFile(source, chainPath)
		require.NoError(t, err)
		assert.True(t, vr.Verified, "chain %s", chainPath)
	}

	// The bundle validates offline.
	report, err := bundle.Validate(res.ManifestPath)
	require.NoError(t, err)
	assert.True(t, report.Verified, report.Summary)
	assert.Equal(t, res.Manifest.BundleHash, mustReadManifest(t, res.ManifestPath).BundleHash)
}

func verifyFloorsRespected(records []contracts.PayoutRecord, fa *contracts.FloorArtifact) error {
	floors := fa.FloorsByProvider()
	for _, r := range records {
		if r.Eligible && r.AmountCents < floors[r.ProviderID] {
			return fmt.Errorf("provider %s below floor", r.ProviderID)
		}
	}
	return nil
}

func mustReadManifest(t *testing.T, path string) *bundle.Manifest {
	t.Helper()
	m, err := bundle.ReadFile(path)
	require.NoError(t, err)
	return m
}

func TestRunJournalsWhenStoreGiven(t *testing.T) {
	receiptsPath, providersPath := writeInputs(t)
	outDir := filepath.Join(t.TempDir(), "out")

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	journal, err := store.NewRunStore(db)
	require.NoError(t, err)
	defer journal.Close()

	res, err := Run(context.Background(), Options{
		Period:           "2026-01",
		BudgetTotalCents: 1_000_000,
		Currency:         "EUR",
		ReceiptsPath:     receiptsPath,
		ProvidersPath:    providersPath,
		OutDir:           outDir,
		Journal:          journal,
		Audit:            audit.Nop(),
	})
	require.NoError(t, err)

	row, err := journal.Latest(context.Background(), "2026-01")
	require.NoError(t, err)
	assert.Equal(t, res.RunID, row.RunID)
	assert.Equal(t, int64(1_000_000), row.BudgetTotalCents)
	assert.Equal(t, int64(1_000_000), row.PaidOutTotalCents)
	assert.Equal(t, res.Manifest.BundleHash, row.BundleHash)
	assert.NotEmpty(t, row.ReceiptsChainRoot)
}

func TestRunFailsBeforeWritingOnBadPolicy(t *testing.T) {
	receiptsPath, providersPath := writeInputs(t)
	outDir := filepath.Join(t.TempDir(), "out")
	policyPath := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(policyPath, []byte("cap_top1: 2.0\n"), 0o644))

	_, err := Run(context.Background(), Options{
		Period:           "2026-01",
		BudgetTotalCents: 1_000_000,
		Currency:         "EUR",
		ReceiptsPath:     receiptsPath,
		ProvidersPath:    providersPath,
		PolicyPath:       policyPath,
		OutDir:           outDir,
	})
	require.Error(t, err)
	assert.Equal(t, contracts.CodeConfiguration, contracts.CodeOf(err))

	// Nothing may hit the disk on a pre-flight failure.
	_, statErr := os.Stat(outDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunMissingReceipts(t *testing.T) {
	_, providersPath := writeInputs(t)
	_, err := Run(context.Background(), Options{
		Period:           "2026-01",
		BudgetTotalCents: 1_000_000,
		Currency:         "EUR",
		ReceiptsPath:     filepath.Join(t.TempDir(), "nope.ndjson"),
		ProvidersPath:    providersPath,
		OutDir:           t.TempDir(),
	})
	require.Error(t, err)
	assert.Equal(t, contracts.CodeMissingArtifact, contracts.CodeOf(err))
}

func TestWriteReadPayoutArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payouts.ndjson")
	in := []contracts.PayoutRecord{
		{Schema: contracts.SchemaPayouts, ProviderID: "a", Period: "2026-01",
			Currency: "EUR", AmountCents: 600, Share: 0.6, Eligible: true, Band: contracts.BandTop},
		{Schema: contracts.SchemaPayouts, ProviderID: "b", Period: "2026-01",
			Currency: "EUR", AmountCents: 400, Share: 0.4, Eligible: true, Band: contracts.BandTop},
	}
	require.NoError(t, WritePayoutArtifact(path, in))
	out, err := ReadPayoutArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReadFloorArtifactRejectsWrongSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floors.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema":"other.v1"}`), 0o644))
	_, err := ReadFloorArtifact(path)
	require.Error(t, err)
	assert.Equal(t, contracts.CodeIntegrityViolation, contracts.CodeOf(err))
}
