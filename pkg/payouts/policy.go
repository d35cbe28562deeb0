package payouts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crovia-labs/crovia-core/pkg/contracts"
)

// Policy names applied to individual providers in the payout records.
const (
	PolicyExcluded  = "excluded"
	PolicyMinAmount = "min_amount"
	PolicyCapTop1   = "cap_top1"
	PolicyCapTop3   = "cap_top3"
	PolicyFloorLift = "floor_lift"
)

// Policy is the ex-ante payout policy for a period: caps, exclusions and the
// minimum payable amount. The zero value is "no policy".
type Policy struct {
	// CapTop1 caps any single provider's share (e.g. 0.55).
	CapTop1 *float64 `yaml:"cap_top1"`
	// CapTop3 caps the summed share of the three largest providers (e.g. 0.80).
	CapTop3 *float64 `yaml:"cap_top3"`
	// Exclusions lists provider ids that receive nothing this period.
	Exclusions []string `yaml:"exclusions"`
	// MinAmountCents zeroes payouts below this threshold; the freed amount is
	// re-allocated pro-rata so the budget invariant still holds.
	MinAmountCents contracts.Cents `yaml:"min_amount_cents"`
}

// LoadPolicy reads a YAML policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, contracts.NewMissingArtifactError("policy file %s: %v", path, err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, contracts.NewConfigurationError("policy file %s: %v", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks policy ranges.
func (p *Policy) Validate() error {
	if p.CapTop1 != nil && (*p.CapTop1 <= 0 || *p.CapTop1 > 1) {
		return contracts.NewConfigurationError("cap_top1 %v outside (0,1]", *p.CapTop1)
	}
	if p.CapTop3 != nil && (*p.CapTop3 <= 0 || *p.CapTop3 > 1) {
		return contracts.NewConfigurationError("cap_top3 %v outside (0,1]", *p.CapTop3)
	}
	if p.MinAmountCents < 0 {
		return contracts.NewConfigurationError("min_amount_cents must be >= 0, got %d", p.MinAmountCents)
	}
	return nil
}

func (p *Policy) excludedSet() map[string]bool {
	out := make(map[string]bool, len(p.Exclusions))
	for _, id := range p.Exclusions {
		out[id] = true
	}
	return out
}

func capLabel(name string, v float64) string {
	return fmt.Sprintf("%s_%g", name, v)
}
