// Package receipts reduces a validated attribution-receipt stream into the
// per-provider aggregates the floor solver and payout allocator consume.
// Ingestion, schema QA, and trust scoring live upstream; this package only
// guards its own boundary and aggregates.
package receipts

import (
	"encoding/json"
	"os"

	"github.com/crovia-labs/crovia-core/pkg/contracts"
)

// TolShareSum is the accepted deviation of a receipt row's share sum from
// 1.0. Rows outside the tolerance are skipped and counted, never repaired.
const TolShareSum = 0.02

// Attribution is one top-k entry of a royalty receipt.
type Attribution struct {
	ProviderID string  `json:"provider_id"`
	ShardID    string  `json:"shard_id"`
	Share      float64 `json:"share"`
}

// RoyaltyReceipt is one validated attribution record (schema
// royalty_receipt.v1) as handed over by the upstream ingestion pipeline.
type RoyaltyReceipt struct {
	Schema    string        `json:"schema"`
	Timestamp string        `json:"timestamp"`
	TopK      []Attribution `json:"top_k"`
}

// RegistryEntry describes one provider in the period's registry.
type RegistryEntry struct {
	ProviderID    string  `json:"provider_id"`
	CoverageBound float64 `json:"coverage_bound"`
	Eligible      bool    `json:"eligible"`
	DisplayName   string  `json:"display_name,omitempty"`
	Status        string  `json:"status,omitempty"`
}

type registryFile struct {
	Providers []RegistryEntry `json:"providers"`
}

// LoadRegistry reads a provider registry JSON file and validates each entry
// at the core boundary. Out-of-range coverage bounds are rejected with a
// field-level error, never clamped.
func LoadRegistry(path string) (map[string]RegistryEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, contracts.NewMissingArtifactError("provider registry %s: %v", path, err)
	}
	var rf registryFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, contracts.NewUpstreamDataError("providers", "registry "+path+": "+err.Error())
	}
	out := make(map[string]RegistryEntry, len(rf.Providers))
	for _, e := range rf.Providers {
		if e.ProviderID == "" {
			return nil, contracts.NewUpstreamDataError("provider_id", "registry entry with empty provider_id")
		}
		if e.CoverageBound <= 0 || e.CoverageBound > 1 {
			return nil, contracts.NewUpstreamDataError("coverage_bound",
				"provider "+e.ProviderID+": coverage_bound outside (0,1]")
		}
		out[e.ProviderID] = e
	}
	return out, nil
}
