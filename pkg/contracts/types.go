// Package contracts holds the shared data types and the stable error taxonomy
// of the Crovia settlement core. Everything downstream (solver, allocator,
// chain engine, bundle tooling) speaks these types; nothing here performs I/O.
package contracts

import (
	"fmt"
	"time"
)

// Schema identifiers for the artifacts this core produces. They are part of
// the wire contract and MUST NOT change between releases.
const (
	SchemaRoyaltyReceipt = "royalty_receipt.v1"
	SchemaFloors         = "floors.v1"
	SchemaPayouts        = "payouts.v1"
	SchemaHashChain      = "hashchain.v1"
	SchemaTrustBundle    = "trust_bundle.v1"
)

// Period identifies one settlement window, labelled YYYY-MM.
// One run = one period + one budget.
type Period string

// ParsePeriod validates a YYYY-MM label.
func ParsePeriod(s string) (Period, error) {
	if _, err := time.Parse("2006-01", s); err != nil {
		return "", NewConfigurationError("invalid period %q (expected YYYY-MM)", s)
	}
	return Period(s), nil
}

// Contains reports whether ts falls inside the period (UTC month match).
func (p Period) Contains(ts time.Time) bool {
	t, err := time.Parse("2006-01", string(p))
	if err != nil {
		return false
	}
	u := ts.UTC()
	return u.Year() == t.Year() && u.Month() == t.Month()
}

func (p Period) String() string { return string(p) }

// ProviderAggregate is the per-provider reduction of the validated receipt
// stream: everything the floor solver and payout allocator need. Aggregates
// are immutable once extracted for a period.
type ProviderAggregate struct {
	ProviderID     string  `json:"provider_id"`
	CoverageBound  float64 `json:"coverage_bound"` // in (0,1]
	Eligible       bool    `json:"eligible"`
	ObservedWeight float64 `json:"observed_weight"` // >= 0
}

// Validate rejects out-of-range aggregates at the core boundary. Values are
// never clamped or coerced.
func (a ProviderAggregate) Validate() error {
	if a.ProviderID == "" {
		return NewUpstreamDataError("provider_id", "empty provider id")
	}
	if a.CoverageBound <= 0 || a.CoverageBound > 1 {
		return NewUpstreamDataError("coverage_bound",
			fmt.Sprintf("provider %s: coverage_bound %v outside (0,1]", a.ProviderID, a.CoverageBound))
	}
	if a.ObservedWeight < 0 {
		return NewUpstreamDataError("observed_weight",
			fmt.Sprintf("provider %s: negative observed_weight %v", a.ProviderID, a.ObservedWeight))
	}
	return nil
}

// FloorRecord is one row of the floor artifact. FloorCents is nil for
// ineligible providers (no floor is defined for them).
type FloorRecord struct {
	ProviderID    string  `json:"provider_id"`
	CoverageBound float64 `json:"coverage_bound"`
	Eligible      bool    `json:"eligible"`
	FloorCents    *Cents  `json:"floor_cents"`
}

// FloorArtifact is the full floor file for one period. Produced once per
// period by the floor solver; never mutated afterwards.
type FloorArtifact struct {
	Schema               string        `json:"schema"`
	Period               Period        `json:"period"`
	BudgetTotalCents     Cents         `json:"budget_total_cents"`
	Currency             string        `json:"currency"`
	CoverageSum          float64       `json:"coverage_sum"`
	CoverageInconsistent bool          `json:"coverage_inconsistent"`
	Providers            []FloorRecord `json:"providers"`
}

// FloorsByProvider returns the eligible floors keyed by provider id.
func (fa *FloorArtifact) FloorsByProvider() map[string]Cents {
	out := make(map[string]Cents, len(fa.Providers))
	for _, r := range fa.Providers {
		if r.Eligible && r.FloorCents != nil {
			out[r.ProviderID] = *r.FloorCents
		}
	}
	return out
}

// Payout bands, derived from the final share. Purely informational.
const (
	BandTop  = "top"  // share >= 0.25
	BandMid  = "mid"  // share >= 0.05
	BandTail = "tail" // everything else
)

// BandForShare maps a final share to its payout band.
func BandForShare(share float64) string {
	switch {
	case share >= 0.25:
		return BandTop
	case share >= 0.05:
		return BandMid
	default:
		return BandTail
	}
}

// PayoutRecord is one row of the payout artifact: exactly one per
// (period, provider). Invariants: AmountCents >= floor for eligible
// providers, zero for ineligible ones, and the amounts sum to the budget.
type PayoutRecord struct {
	Schema          string   `json:"schema"`
	ProviderID      string   `json:"provider_id"`
	Period          Period   `json:"period"`
	Currency        string   `json:"currency"`
	AmountCents     Cents    `json:"amount_cents"`
	Share           float64  `json:"share"`
	Eligible        bool     `json:"eligible"`
	Band            string   `json:"band"`
	PoliciesApplied []string `json:"policies_applied,omitempty"`
}
