package receipts

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"github.com/crovia-labs/crovia-core/pkg/contracts"
)

// ExtractStats counts what happened to the stream. Skips are explicit and
// countable; nothing is silently dropped.
type ExtractStats struct {
	TotalRows       int `json:"total_rows"`
	Accepted        int `json:"accepted"`
	ParseErrors     int `json:"parse_errors"`
	SchemaRejects   int `json:"schema_rejects"`
	OutOfPeriod     int `json:"out_of_period"`
	SkippedBadSum   int `json:"skipped_bad_sum"`
	UnknownProvider int `json:"unknown_providers"`
}

// Extract reduces a royalty-receipt NDJSON stream into per-provider
// aggregates for one period. Coverage bound and eligibility come from the
// registry; observed weight is the accumulated, per-row-normalized share. A
// provider seen in receipts but absent from the registry defaults to full
// coverage and eligible, the conservative fallback when nothing is known.
//
// This is a pure reduction: one pass, no side effects.
func Extract(r io.Reader, period contracts.Period, registry map[string]RegistryEntry) ([]contracts.ProviderAggregate, *ExtractStats, error) {
	stats := &ExtractStats{}
	weights := make(map[string]float64)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.TotalRows++

		var decoded any
		if err := json.Unmarshal(line, &decoded); err != nil {
			stats.ParseErrors++
			continue
		}
		if err := validateRecord(decoded); err != nil {
			stats.SchemaRejects++
			continue
		}
		var rec RoyaltyReceipt
		if err := json.Unmarshal(line, &rec); err != nil {
			stats.ParseErrors++
			continue
		}

		ts, err := parseTimestamp(rec.Timestamp)
		if err != nil || !period.Contains(ts) {
			stats.OutOfPeriod++
			continue
		}

		sum := 0.0
		for _, a := range rec.TopK {
			sum += a.Share
		}
		if !isFiniteShareSum(sum) {
			stats.SkippedBadSum++
			continue
		}
		// Normalize the in-tolerance row to exactly 1.0 before accumulating.
		for _, a := range rec.TopK {
			weights[a.ProviderID] += a.Share / sum
		}
		stats.Accepted++
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read receipts: %w", err)
	}

	ids := make(map[string]bool, len(registry)+len(weights))
	for id := range registry {
		ids[id] = true
	}
	for id := range weights {
		if !ids[id] {
			stats.UnknownProvider++
			ids[id] = true
		}
	}

	aggregates := make([]contracts.ProviderAggregate, 0, len(ids))
	for id := range ids {
		agg := contracts.ProviderAggregate{
			ProviderID:     id,
			CoverageBound:  1.0,
			Eligible:       true,
			ObservedWeight: weights[id],
		}
		if e, ok := registry[id]; ok {
			agg.CoverageBound = e.CoverageBound
			agg.Eligible = e.Eligible
		}
		if err := agg.Validate(); err != nil {
			return nil, nil, err
		}
		aggregates = append(aggregates, agg)
	}
	sort.Slice(aggregates, func(i, j int) bool {
		return aggregates[i].ProviderID < aggregates[j].ProviderID
	})
	return aggregates, stats, nil
}

// ExtractFile is Extract over an NDJSON file on disk.
func ExtractFile(path string, period contracts.Period, registry map[string]RegistryEntry) ([]contracts.ProviderAggregate, *ExtractStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, contracts.NewMissingArtifactError("receipts %s: %v", path, err)
	}
	defer f.Close()
	return Extract(f, period, registry)
}

func isFiniteShareSum(sum float64) bool {
	if math.IsNaN(sum) || math.IsInf(sum, 0) || sum <= 0 {
		return false
	}
	return math.Abs(sum-1.0) <= TolShareSum
}

func parseTimestamp(ts string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", ts)
}
