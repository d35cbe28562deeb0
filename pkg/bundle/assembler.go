package bundle

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/crovia-labs/crovia-core/pkg/canonicalize"
	"github.com/crovia-labs/crovia-core/pkg/contracts"
)

// Declared names an artifact file before hashing. Path is relative to the
// manifest's directory.
type Declared struct {
	Path string
	Kind string
}

// AssembleInput collects everything the assembler needs.
type AssembleInput struct {
	Period     contracts.Period
	ProducerID string // defaults to "crovia-core/" + a fresh run uuid
	BaseDir    string // directory the manifest will live in
	Artifacts  map[string]Declared
	Summary    Summary
	// Attestations are passed through untouched.
	Attestations []string
	// Now is injectable for deterministic tests; nil means time.Now.
	Now func() time.Time
}

// Assemble hashes every declared artifact and builds the manifest. Assembly
// fails loudly if any declared file is missing or unreadable: a partial
// manifest must never be emitted.
func Assemble(in AssembleInput) (*Manifest, error) {
	if in.Period == "" {
		return nil, contracts.NewConfigurationError("bundle assembly requires a period")
	}
	if len(in.Artifacts) == 0 {
		return nil, contracts.NewConfigurationError("bundle assembly requires at least one artifact")
	}
	producer := in.ProducerID
	if producer == "" {
		producer = "crovia-core/" + uuid.New().String()
	}
	now := time.Now
	if in.Now != nil {
		now = in.Now
	}

	names := make([]string, 0, len(in.Artifacts))
	for name := range in.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make(map[string]ArtifactEntry, len(names))
	for _, name := range names {
		decl := in.Artifacts[name]
		full := decl.Path
		if !filepath.IsAbs(full) {
			full = filepath.Join(in.BaseDir, decl.Path)
		}
		digest, size, err := canonicalize.HashFile(full)
		if err != nil {
			return nil, contracts.NewMissingArtifactError(
				"artifact %q at %s: %v", name, decl.Path, err)
		}
		entries[name] = ArtifactEntry{
			Path:   filepath.ToSlash(decl.Path),
			Bytes:  size,
			SHA256: digest,
			Kind:   decl.Kind,
		}
	}

	m := &Manifest{
		Schema:        contracts.SchemaTrustBundle,
		FormatVersion: FormatVersion,
		Period:        in.Period,
		CreatedAt:     now().UTC().Truncate(time.Second),
		ProducerID:    producer,
		Artifacts:     entries,
		Summary:       in.Summary,
		Attestations:  in.Attestations,
	}
	selfHash, err := m.SelfHash()
	if err != nil {
		return nil, err
	}
	m.BundleHash = selfHash
	return m, nil
}
