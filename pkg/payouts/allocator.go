// Package payouts turns per-provider observed weights into final payout
// amounts that sum exactly to the period budget, respect every floor from the
// floor solver, and apply the configured cap/exclusion policy.
//
// Allocation order: exclusions, proportional shares, caps (pro-rata
// redistribution iterated to a fixpoint), floor lift (shortfall drawn
// proportionally from headroom), then integer-cent largest-remainder
// rounding. Amounts are integer cents throughout the final phase so the
// budget invariant is exact, not approximate.
package payouts

import (
	"log/slog"
	"math"
	"sort"

	"github.com/crovia-labs/crovia-core/pkg/contracts"
)

const shareEpsilon = 1e-12

// Input is everything the allocator needs for one period.
type Input struct {
	Period           contracts.Period
	BudgetTotalCents contracts.Cents
	Currency         string
	Providers        []contracts.ProviderAggregate
	// Floors maps eligible provider ids to their floor in cents.
	Floors map[string]contracts.Cents
	// Policy is optional; nil means no caps, exclusions, or minimum.
	Policy *Policy
}

// Allocate computes the payout table for one period.
func Allocate(in Input, logger *slog.Logger) ([]contracts.PayoutRecord, error) {
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
	pol := in.Policy
	if pol == nil {
		pol = &Policy{}
	}
	if err := pol.Validate(); err != nil {
		return nil, err
	}

	var floorSum contracts.Cents
	for _, f := range in.Floors {
		floorSum += f
	}
	if floorSum > in.BudgetTotalCents {
		return nil, contracts.NewConfigurationError(
			"floor sum %s exceeds budget %s: inconsistent inputs", floorSum, in.BudgetTotalCents)
	}

	excluded := pol.excludedSet()
	policies := make(map[string][]string)

	// Participants: eligible and not excluded. An excluded provider with a
	// positive floor is a contradiction between policy and floors.
	participants := make([]contracts.ProviderAggregate, 0, len(in.Providers))
	for _, p := range in.Providers {
		if !p.Eligible {
			continue
		}
		if excluded[p.ProviderID] {
			if in.Floors[p.ProviderID] > 0 {
				return nil, contracts.NewConfigurationError(
					"provider %s is excluded but has floor %s",
					p.ProviderID, in.Floors[p.ProviderID])
			}
			policies[p.ProviderID] = append(policies[p.ProviderID], PolicyExcluded)
			continue
		}
		participants = append(participants, p)
	}
	if len(participants) == 0 {
		return nil, contracts.NewConfigurationError(
			"no eligible providers remain after exclusions in period %s", in.Period)
	}

	// The weight sum is the only global reduction; everything after it is
	// per-provider.
	weightSum := 0.0
	for _, p := range participants {
		weightSum += p.ObservedWeight
	}

	shares := make(map[string]float64, len(participants))
	if weightSum > 0 {
		for _, p := range participants {
			shares[p.ProviderID] = p.ObservedWeight / weightSum
		}
	} else {
		// No observed signal at all: split evenly so floors remain satisfiable.
		even := 1.0 / float64(len(participants))
		for _, p := range participants {
			shares[p.ProviderID] = even
		}
		logger.Warn("all observed weights are zero, splitting budget evenly",
			slog.String("period", in.Period.String()),
			slog.Int("providers", len(participants)))
	}

	if err := applyCaps(shares, pol, policies); err != nil {
		return nil, err
	}

	budget := float64(in.BudgetTotalCents)
	raw := make(map[string]float64, len(shares))
	for id, s := range shares {
		raw[id] = s * budget
	}

	liftFloors(raw, in.Floors, policies)

	amounts := roundLargestRemainder(raw, in.BudgetTotalCents)
	repairFloors(amounts, in.Floors)

	if pol.MinAmountCents > 0 {
		if err := applyMinAmount(amounts, in.Floors, pol.MinAmountCents, policies); err != nil {
			return nil, err
		}
	}

	records := buildRecords(in, amounts, policies)
	if err := VerifyInvariants(records, in.BudgetTotalCents, in.Floors); err != nil {
		return nil, err
	}
	return records, nil
}

// applyCaps enforces cap_top1 and cap_top3, redistributing capped excess
// proportionally among uncapped providers. Each iteration freezes at least
// one provider, so the loop is finite.
func applyCaps(shares map[string]float64, pol *Policy, policies map[string][]string) error {
	if pol.CapTop1 == nil && pol.CapTop3 == nil {
		return nil
	}
	frozen := make(map[string]bool)

	for iter := 0; iter <= len(shares); iter++ {
		changed := false

		if pol.CapTop1 != nil {
			cap1 := *pol.CapTop1
			top := topProviders(shares, 1)
			if len(top) == 1 && shares[top[0]] > cap1+shareEpsilon {
				excess := shares[top[0]] - cap1
				shares[top[0]] = cap1
				frozen[top[0]] = true
				policies[top[0]] = appendOnce(policies[top[0]], capLabel(PolicyCapTop1, cap1))
				if err := redistribute(shares, frozen, excess); err != nil {
					return err
				}
				changed = true
			}
		}

		if pol.CapTop3 != nil && len(shares) >= 3 {
			cap3 := *pol.CapTop3
			top := topProviders(shares, 3)
			sum3 := 0.0
			for _, id := range top {
				sum3 += shares[id]
			}
			if sum3 > cap3+shareEpsilon {
				excess := sum3 - cap3
				for _, id := range top {
					cut := shares[id] / sum3 * excess
					shares[id] -= cut
					frozen[id] = true
					policies[id] = appendOnce(policies[id], capLabel(PolicyCapTop3, cap3))
				}
				if err := redistribute(shares, frozen, excess); err != nil {
					return err
				}
				changed = true
			}
		}

		if !changed {
			return nil
		}
		normalize(shares)
	}
	return nil
}

// redistribute spreads excess share pro-rata over unfrozen positive providers.
func redistribute(shares map[string]float64, frozen map[string]bool, excess float64) error {
	free := 0.0
	for id, s := range shares {
		if !frozen[id] && s > 0 {
			free += s
		}
	}
	if free <= 0 {
		return contracts.NewConfigurationError(
			"cap policy infeasible: no uncapped provider left to absorb excess share %.6f", excess)
	}
	for id, s := range shares {
		if !frozen[id] && s > 0 {
			shares[id] = s + s/free*excess
		}
	}
	return nil
}

// normalize rescales shares to sum exactly to 1, absorbing float drift.
func normalize(shares map[string]float64) {
	tot := 0.0
	for _, s := range shares {
		if s > 0 {
			tot += s
		}
	}
	if tot <= 0 {
		return
	}
	for id, s := range shares {
		if s > 0 {
			shares[id] = s / tot
		} else {
			shares[id] = 0
		}
	}
}

// topProviders returns the n largest providers by share, ties broken by id
// ascending so cap application is deterministic.
func topProviders(shares map[string]float64, n int) []string {
	ids := sortedIDs(shares)
	sort.SliceStable(ids, func(i, j int) bool {
		return shares[ids[i]] > shares[ids[j]]
	})
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

// liftFloors raises below-floor providers to their floor and draws the
// shortfall proportionally from headroom above floor. One pass suffices:
// drawing is capped at headroom, so nobody drops below their own floor.
func liftFloors(raw map[string]float64, floors map[string]contracts.Cents, policies map[string][]string) {
	shortfall := 0.0
	for id := range raw {
		floor := float64(floors[id])
		if raw[id] < floor {
			shortfall += floor - raw[id]
			raw[id] = floor
			policies[id] = appendOnce(policies[id], PolicyFloorLift)
		}
	}
	if shortfall <= 0 {
		return
	}
	headroom := 0.0
	for id := range raw {
		if h := raw[id] - float64(floors[id]); h > 0 {
			headroom += h
		}
	}
	if headroom <= 0 {
		return
	}
	scale := shortfall / headroom
	if scale > 1 {
		scale = 1
	}
	for id := range raw {
		if h := raw[id] - float64(floors[id]); h > 0 {
			raw[id] -= h * scale
		}
	}
}

// roundLargestRemainder converts fractional-cent amounts to whole cents that
// sum exactly to budget. Residual cents go to the largest remainders, ties
// broken by provider id ascending.
func roundLargestRemainder(raw map[string]float64, budget contracts.Cents) map[string]contracts.Cents {
	ids := sortedIDs(raw)
	amounts := make(map[string]contracts.Cents, len(raw))
	type rem struct {
		id   string
		frac float64
	}
	rems := make([]rem, 0, len(ids))
	var base contracts.Cents
	for _, id := range ids {
		b := contracts.Cents(math.Floor(raw[id] + 1e-9))
		if b < 0 {
			b = 0
		}
		amounts[id] = b
		base += b
		rems = append(rems, rem{id: id, frac: raw[id] - float64(b)})
	}
	residual := budget - base
	sort.SliceStable(rems, func(i, j int) bool {
		return rems[i].frac > rems[j].frac
	})
	for i := 0; residual > 0 && len(rems) > 0; i = (i + 1) % len(rems) {
		amounts[rems[i].id]++
		residual--
	}
	for residual < 0 {
		adjusted := false
		for i := len(rems) - 1; residual < 0 && i >= 0; i-- {
			if amounts[rems[i].id] > 0 {
				amounts[rems[i].id]--
				residual++
				adjusted = true
			}
		}
		if !adjusted {
			break
		}
	}
	return amounts
}

// repairFloors fixes single-cent floor violations introduced by rounding,
// moving cents from the providers with the most slack.
func repairFloors(amounts map[string]contracts.Cents, floors map[string]contracts.Cents) {
	ids := make([]string, 0, len(amounts))
	for id := range amounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		needed := floors[id] - amounts[id]
		for needed > 0 {
			donor, slack := "", contracts.Cents(0)
			for _, d := range ids {
				if d == id {
					continue
				}
				if s := amounts[d] - floors[d]; s > slack || (s == slack && s > 0 && (donor == "" || d < donor)) {
					donor, slack = d, s
				}
			}
			if donor == "" || slack <= 0 {
				break
			}
			take := slack
			if take > needed {
				take = needed
			}
			amounts[donor] -= take
			amounts[id] += take
			needed -= take
		}
	}
}

// applyMinAmount zeroes positive payouts below the threshold (unless floor
// protected) and re-allocates the freed cents pro-rata among the survivors so
// the budget invariant is preserved.
func applyMinAmount(amounts map[string]contracts.Cents, floors map[string]contracts.Cents,
	minAmount contracts.Cents, policies map[string][]string) error {

	var freed contracts.Cents
	for _, id := range sortedCentIDs(amounts) {
		if amounts[id] > 0 && amounts[id] < minAmount && floors[id] == 0 {
			freed += amounts[id]
			amounts[id] = 0
			policies[id] = appendOnce(policies[id], PolicyMinAmount)
		}
	}
	if freed == 0 {
		return nil
	}
	var survivorTotal contracts.Cents
	survivors := make([]string, 0, len(amounts))
	for _, id := range sortedCentIDs(amounts) {
		if amounts[id] > 0 {
			survivors = append(survivors, id)
			survivorTotal += amounts[id]
		}
	}
	if len(survivors) == 0 {
		return contracts.NewConfigurationError(
			"min_amount_cents=%d zeroes every payout; budget cannot be settled", minAmount)
	}
	// Pro-rata distribution of the freed cents, largest remainder for the rest.
	raw := make(map[string]float64, len(survivors))
	for _, id := range survivors {
		raw[id] = float64(amounts[id]) + float64(freed)*float64(amounts[id])/float64(survivorTotal)
	}
	redistributed := roundLargestRemainder(raw, survivorTotal+freed)
	for id, v := range redistributed {
		amounts[id] = v
	}
	return nil
}

func buildRecords(in Input, amounts map[string]contracts.Cents, policies map[string][]string) []contracts.PayoutRecord {
	budget := float64(in.BudgetTotalCents)
	records := make([]contracts.PayoutRecord, 0, len(in.Providers))
	for _, p := range in.Providers {
		amount := contracts.Cents(0)
		if p.Eligible {
			amount = amounts[p.ProviderID]
		}
		share := 0.0
		if budget > 0 {
			share = float64(amount) / budget
		}
		records = append(records, contracts.PayoutRecord{
			Schema:          contracts.SchemaPayouts,
			ProviderID:      p.ProviderID,
			Period:          in.Period,
			Currency:        in.Currency,
			AmountCents:     amount,
			Share:           share,
			Eligible:        p.Eligible,
			Band:            contracts.BandForShare(share),
			PoliciesApplied: policies[p.ProviderID],
		})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].AmountCents != records[j].AmountCents {
			return records[i].AmountCents > records[j].AmountCents
		}
		return records[i].ProviderID < records[j].ProviderID
	})
	return records
}

// VerifyInvariants checks the post-allocation contract: amounts sum exactly
// to the budget, every eligible provider is at or above its floor, ineligible
// providers receive zero, and nothing is negative.
func VerifyInvariants(records []contracts.PayoutRecord, budget contracts.Cents, floors map[string]contracts.Cents) error {
	var sum contracts.Cents
	for _, r := range records {
		if r.AmountCents < 0 {
			return contracts.NewIntegrityError(
				"provider %s has negative amount %s", r.ProviderID, r.AmountCents)
		}
		if !r.Eligible && r.AmountCents != 0 {
			return contracts.NewIntegrityError(
				"ineligible provider %s has nonzero amount %s", r.ProviderID, r.AmountCents)
		}
		if r.Eligible {
			if f, ok := floors[r.ProviderID]; ok && r.AmountCents < f {
				return contracts.NewIntegrityError(
					"provider %s amount %s below floor %s", r.ProviderID, r.AmountCents, f)
			}
		}
		sum += r.AmountCents
	}
	if sum != budget {
		return contracts.NewIntegrityError(
			"payout sum %s does not equal budget %s", sum, budget)
	}
	return nil
}

func sortedIDs(m map[string]float64) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedCentIDs(m map[string]contracts.Cents) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func appendOnce(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
