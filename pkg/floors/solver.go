// Package floors computes the Crovian floor: for each eligible provider, the
// largest payout that no budget- and coverage-conforming allocation can avoid
// giving it.
//
// The defendable space of payout vectors x is:
//
//	sum(x_i) = B
//	0 <= x_i <= B * coverage_bound_i
//	eligible_i = false  =>  x_i = 0
//
// With C = sum of eligible coverage bounds and C >= 1, the closed form is
//
//	floor_k = max(0, B * (1 - sum_{j != k, eligible} coverage_bound_j))
//
// If C < 1 the system is infeasible: every coverage bound is lifted to 1.0
// for the period, which forces all floors to zero, and the period is flagged
// coverage-inconsistent. The fallback is a documented policy choice and is
// surfaced as a first-class flag, never inferred from zero floors.
package floors

import (
	"log/slog"
	"sort"

	"github.com/crovia-labs/crovia-core/pkg/contracts"
)

// CoverageEpsilon is the tolerance used for the C >= 1 feasibility test.
const CoverageEpsilon = 1e-9

// fracEpsilon snaps floor fractions that are pure float noise to zero.
const fracEpsilon = 1e-12

// Input is everything the solver needs for one period.
type Input struct {
	Period           contracts.Period
	BudgetTotalCents contracts.Cents
	Currency         string
	Providers        []contracts.ProviderAggregate
}

// Solve computes the floor artifact for one period. The whole computation is
// global (coupled through C): callers must re-run it in full whenever budget,
// coverage bounds, or eligibility change.
func Solve(in Input, logger *slog.Logger) (*contracts.FloorArtifact, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if in.BudgetTotalCents <= 0 {
		return nil, contracts.NewConfigurationError(
			"budget must be positive, got %s", in.BudgetTotalCents)
	}
	for _, p := range in.Providers {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	eligible := make([]contracts.ProviderAggregate, 0, len(in.Providers))
	for _, p := range in.Providers {
		if p.Eligible {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return nil, contracts.NewConfigurationError(
			"no eligible providers in period %s", in.Period)
	}

	coverageSum := 0.0
	for _, p := range eligible {
		coverageSum += p.CoverageBound
	}

	inconsistent := coverageSum < 1.0-CoverageEpsilon
	bounds := make(map[string]float64, len(in.Providers))
	for _, p := range in.Providers {
		bounds[p.ProviderID] = p.CoverageBound
	}
	if inconsistent {
		logger.Warn("coverage sum below 1.0, applying fallback coverage_bound=1.0",
			slog.String("code", contracts.CodeCoverageInconsistent),
			slog.String("period", in.Period.String()),
			slog.Float64("coverage_sum", coverageSum))
		for _, p := range eligible {
			bounds[p.ProviderID] = 1.0
		}
		coverageSum = float64(len(eligible))
	}

	budget := float64(in.BudgetTotalCents)
	records := make([]contracts.FloorRecord, 0, len(in.Providers))
	for _, p := range in.Providers {
		rec := contracts.FloorRecord{
			ProviderID:    p.ProviderID,
			CoverageBound: bounds[p.ProviderID],
			Eligible:      p.Eligible,
		}
		if p.Eligible {
			sumOthers := coverageSum - bounds[p.ProviderID]
			frac := 1.0 - sumOthers
			if frac < fracEpsilon {
				frac = 0.0
			}
			floor := contracts.RoundCents(budget * frac)
			rec.FloorCents = &floor
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ProviderID < records[j].ProviderID
	})

	return &contracts.FloorArtifact{
		Schema:               contracts.SchemaFloors,
		Period:               in.Period,
		BudgetTotalCents:     in.BudgetTotalCents,
		Currency:             in.Currency,
		CoverageSum:          coverageSum,
		CoverageInconsistent: inconsistent,
		Providers:            records,
	}, nil
}
