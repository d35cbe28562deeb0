// Package bundle assembles and validates trust bundles: the hash-anchored,
// authoritative description of which evidence files belong to a settlement
// period. The validator runs offline from the manifest plus the referenced
// files alone; no trust in the producing engine is required.
package bundle

import (
	"encoding/json"
	"os"
	"time"

	"github.com/crovia-labs/crovia-core/pkg/canonicalize"
	"github.com/crovia-labs/crovia-core/pkg/contracts"
)

// FormatVersion of manifests this package writes. Validators accept any
// manifest sharing the same major version.
const FormatVersion = "1.1.0"

// Artifact kinds, used as schema tags in manifest entries.
const (
	KindFloors    = "floors"
	KindPayouts   = "payouts"
	KindHashChain = "hashchain"
	KindReceipts  = "receipts"
	KindReport    = "report"
)

// ArtifactEntry binds a declared evidence file to its byte size and digest.
// Entries are created exclusively by the assembler; validators only read.
type ArtifactEntry struct {
	Path   string `json:"path"` // relative to the manifest directory
	Bytes  int64  `json:"bytes"`
	SHA256 string `json:"sha256"`
	Kind   string `json:"kind,omitempty"`
}

// Summary carries the run-level statistics of the settled period.
type Summary struct {
	EntityCount       int             `json:"entity_count"`
	BudgetTotalCents  contracts.Cents `json:"budget_total_cents"`
	PaidOutTotalCents contracts.Cents `json:"paid_out_total_cents"`
	Currency          string          `json:"currency"`
}

// Manifest is the trust bundle file. It is immutable once assembled:
// re-running settlement produces a new manifest, never an in-place edit.
// BundleHash is the SHA-256 of the manifest's RFC 8785 canonical form with
// the bundle_hash field absent.
type Manifest struct {
	Schema        string                   `json:"schema"`
	FormatVersion string                   `json:"format_version"`
	Period        contracts.Period         `json:"period"`
	CreatedAt     time.Time                `json:"created_at"`
	ProducerID    string                   `json:"producer_id"`
	Artifacts     map[string]ArtifactEntry `json:"artifacts"`
	Summary       Summary                  `json:"summary"`
	// Attestations are opaque signature blobs attached by external signers.
	// The core never interprets them.
	Attestations []string `json:"attestations,omitempty"`
	BundleHash   string   `json:"bundle_hash,omitempty"`
}

// SelfHash computes the canonical hash of the manifest without bundle_hash.
func (m *Manifest) SelfHash() (string, error) {
	clone := *m
	clone.BundleHash = ""
	return canonicalize.CanonicalHash(&clone)
}

// WriteFile writes the manifest as indented JSON.
func (m *Manifest) WriteFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ReadFile loads and minimally sanity-checks a manifest file.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, contracts.NewMissingArtifactError("manifest %s: %v", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, contracts.NewIntegrityError("manifest %s: %v", path, err)
	}
	if m.Schema != contracts.SchemaTrustBundle {
		return nil, contracts.NewIntegrityError(
			"manifest %s: schema %q, expected %q", path, m.Schema, contracts.SchemaTrustBundle)
	}
	if len(m.Artifacts) == 0 {
		return nil, contracts.NewIntegrityError("manifest %s declares no artifacts", path)
	}
	return &m, nil
}
