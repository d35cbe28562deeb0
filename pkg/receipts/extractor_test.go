package receipts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crovia-labs/crovia-core/pkg/contracts"
)

const sampleRegistry = `{
  "providers": [
    {"provider_id": "prov-a", "coverage_bound": 0.7, "eligible": true},
    {"provider_id": "prov-b", "coverage_bound": 0.5, "eligible": true},
    {"provider_id": "prov-x", "coverage_bound": 0.2, "eligible": false}
  ]
}`

func loadSampleRegistry(t *testing.T) map[string]RegistryEntry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleRegistry), 0o644))
	registry, err := LoadRegistry(path)
	require.NoError(t, err)
	return registry
}

func aggregateOf(t *testing.T, aggs []contracts.ProviderAggregate, id string) contracts.ProviderAggregate {
	t.Helper()
	for _, a := range aggs {
		if a.ProviderID == id {
			return a
		}
	}
	t.Fatalf("provider %s not in aggregates", id)
	return contracts.ProviderAggregate{}
}

func TestExtractAggregatesWeights(t *testing.T) {
	registry := loadSampleRegistry(t)
	stream := strings.Join([]string{
		`{"schema":"royalty_receipt.v1","timestamp":"2026-01-05T10:00:00Z","top_k":[{"provider_id":"prov-a","shard_id":"s1","share":0.6},{"provider_id":"prov-b","shard_id":"s2","share":0.4}]}`,
		`{"schema":"royalty_receipt.v1","timestamp":"2026-01-20T10:00:00Z","top_k":[{"provider_id":"prov-a","shard_id":"s1","share":1.0}]}`,
	}, "\n")

	aggs, stats, err := Extract(strings.NewReader(stream), "2026-01", registry)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 2, stats.TotalRows)

	a := aggregateOf(t, aggs, "prov-a")
	assert.InDelta(t, 1.6, a.ObservedWeight, 1e-9)
	assert.Equal(t, 0.7, a.CoverageBound)
	assert.True(t, a.Eligible)

	b := aggregateOf(t, aggs, "prov-b")
	assert.InDelta(t, 0.4, b.ObservedWeight, 1e-9)

	// Registry-only providers still appear, with zero weight.
	x := aggregateOf(t, aggs, "prov-x")
	assert.Zero(t, x.ObservedWeight)
	assert.False(t, x.Eligible)
}

func TestExtractNormalizesInToleranceRows(t *testing.T) {
	registry := loadSampleRegistry(t)
	// Shares sum to 0.99: inside TolShareSum, normalized to exactly 1.0.
	stream := `{"schema":"royalty_receipt.v1","timestamp":"2026-01-05T10:00:00Z","top_k":[{"provider_id":"prov-a","shard_id":"s1","share":0.66},{"provider_id":"prov-b","shard_id":"s2","share":0.33}]}`

	aggs, stats, err := Extract(strings.NewReader(stream), "2026-01", registry)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Accepted)

	total := aggregateOf(t, aggs, "prov-a").ObservedWeight +
		aggregateOf(t, aggs, "prov-b").ObservedWeight
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestExtractSkipsOutOfToleranceRows(t *testing.T) {
	registry := loadSampleRegistry(t)
	stream := strings.Join([]string{
		`{"schema":"royalty_receipt.v1","timestamp":"2026-01-05T10:00:00Z","top_k":[{"provider_id":"prov-a","shard_id":"s1","share":0.5}]}`,
		`{"schema":"royalty_receipt.v1","timestamp":"2026-01-05T10:00:00Z","top_k":[{"provider_id":"prov-a","shard_id":"s1","share":1.0}]}`,
	}, "\n")

	aggs, stats, err := Extract(strings.NewReader(stream), "2026-01", registry)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedBadSum)
	assert.Equal(t, 1, stats.Accepted)
	assert.InDelta(t, 1.0, aggregateOf(t, aggs, "prov-a").ObservedWeight, 1e-9)
}

func TestExtractFiltersByPeriod(t *testing.T) {
	registry := loadSampleRegistry(t)
	stream := strings.Join([]string{
		`{"schema":"royalty_receipt.v1","timestamp":"2025-12-31T23:59:59Z","top_k":[{"provider_id":"prov-a","shard_id":"s1","share":1.0}]}`,
		`{"schema":"royalty_receipt.v1","timestamp":"2026-01-01T00:00:00Z","top_k":[{"provider_id":"prov-a","shard_id":"s1","share":1.0}]}`,
		`{"schema":"royalty_receipt.v1","timestamp":"2026-02-01T00:00:00Z","top_k":[{"provider_id":"prov-a","shard_id":"s1","share":1.0}]}`,
	}, "\n")

	_, stats, err := Extract(strings.NewReader(stream), "2026-01", registry)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Accepted)
	assert.Equal(t, 2, stats.OutOfPeriod)
}

func TestExtractCountsSchemaRejects(t *testing.T) {
	registry := loadSampleRegistry(t)
	stream := strings.Join([]string{
		`not json at all`,
		`{"schema":"wrong.v1","timestamp":"2026-01-05T10:00:00Z","top_k":[{"provider_id":"a","shard_id":"s","share":1}]}`,
		`{"schema":"royalty_receipt.v1","timestamp":"2026-01-05T10:00:00Z","top_k":[]}`,
		`{"schema":"royalty_receipt.v1","timestamp":"2026-01-05T10:00:00Z","top_k":[{"provider_id":"prov-a","shard_id":"s1","share":1.0}]}`,
	}, "\n")

	_, stats, err := Extract(strings.NewReader(stream), "2026-01", registry)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ParseErrors)
	assert.Equal(t, 2, stats.SchemaRejects)
	assert.Equal(t, 1, stats.Accepted)
}

func TestExtractUnknownProviderDefaults(t *testing.T) {
	registry := loadSampleRegistry(t)
	stream := `{"schema":"royalty_receipt.v1","timestamp":"2026-01-05T10:00:00Z","top_k":[{"provider_id":"newcomer","shard_id":"s1","share":1.0}]}`

	aggs, stats, err := Extract(strings.NewReader(stream), "2026-01", registry)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UnknownProvider)

	n := aggregateOf(t, aggs, "newcomer")
	assert.Equal(t, 1.0, n.CoverageBound)
	assert.True(t, n.Eligible)
	assert.InDelta(t, 1.0, n.ObservedWeight, 1e-9)
}

func TestExtractAggregatesAreSorted(t *testing.T) {
	registry := loadSampleRegistry(t)
	aggs, _, err := Extract(strings.NewReader(""), "2026-01", registry)
	require.NoError(t, err)
	require.Len(t, aggs, 3)
	assert.Equal(t, "prov-a", aggs[0].ProviderID)
	assert.Equal(t, "prov-b", aggs[1].ProviderID)
	assert.Equal(t, "prov-x", aggs[2].ProviderID)
}

func TestLoadRegistryRejectsBadEntries(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		body string
	}{
		{"empty id", `{"providers":[{"provider_id":"","coverage_bound":0.5,"eligible":true}]}`},
		{"coverage zero", `{"providers":[{"provider_id":"a","coverage_bound":0,"eligible":true}]}`},
		{"coverage above one", `{"providers":[{"provider_id":"a","coverage_bound":1.5,"eligible":true}]}`},
		{"not json", `nope`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tc.name, " ", "_")+".json")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o644))
			_, err := LoadRegistry(path)
			require.Error(t, err)
			assert.Equal(t, contracts.CodeUpstreamData, contracts.CodeOf(err))
		})
	}
}

func TestLoadRegistryMissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.json"))
	assert.Equal(t, contracts.CodeMissingArtifact, contracts.CodeOf(err))
}

func TestExtractFileMissing(t *testing.T) {
	_, _, err := ExtractFile(filepath.Join(t.TempDir(), "nope.ndjson"), "2026-01", nil)
	assert.Equal(t, contracts.CodeMissingArtifact, contracts.CodeOf(err))
}
