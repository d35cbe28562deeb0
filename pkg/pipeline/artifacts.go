package pipeline

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/crovia-labs/crovia-core/pkg/contracts"
)

// WriteFloorArtifact writes the floor file as indented JSON.
func WriteFloorArtifact(path string, artifact *contracts.FloorArtifact) error {
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ReadFloorArtifact loads a floor file.
func ReadFloorArtifact(path string) (*contracts.FloorArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, contracts.NewMissingArtifactError("floors %s: %v", path, err)
	}
	var fa contracts.FloorArtifact
	if err := json.Unmarshal(data, &fa); err != nil {
		return nil, contracts.NewIntegrityError("floors %s: %v", path, err)
	}
	if fa.Schema != contracts.SchemaFloors {
		return nil, contracts.NewIntegrityError(
			"floors %s: schema %q, expected %q", path, fa.Schema, contracts.SchemaFloors)
	}
	return &fa, nil
}

// WritePayoutArtifact writes payout records as NDJSON, one record per line,
// preserving the allocator's deterministic ordering.
func WritePayoutArtifact(path string, records []contracts.PayoutRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadPayoutArtifact loads a payout NDJSON file.
func ReadPayoutArtifact(path string) ([]contracts.PayoutRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, contracts.NewMissingArtifactError("payouts %s: %v", path, err)
	}
	var out []contracts.PayoutRecord
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var r contracts.PayoutRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, contracts.NewIntegrityError("payouts %s: %v", path, err)
		}
		out = append(out, r)
	}
	return out, nil
}
