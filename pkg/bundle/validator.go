package bundle

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/crovia-labs/crovia-core/pkg/canonicalize"
)

// Per-artifact validation statuses.
const (
	StatusOK           = "OK"
	StatusMissing      = "MISSING"
	StatusSizeMismatch = "SIZE_MISMATCH"
	StatusHashMismatch = "HASH_MISMATCH"
)

// ArtifactCheck is the result of validating one declared artifact.
type ArtifactCheck struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Expected string `json:"expected_sha256,omitempty"`
	Actual   string `json:"actual_sha256,omitempty"`
}

// Report is the full validation verdict. Verified is the logical AND of all
// checks; every check always runs, because an auditor benefits from seeing
// every failure, not just the first.
type Report struct {
	Manifest   string          `json:"manifest"`
	Period     string          `json:"period"`
	Verified   bool            `json:"verified"`
	Timestamp  time.Time       `json:"timestamp"`
	Checks     []ArtifactCheck `json:"checks"`
	IssueCount int             `json:"issue_count"`
	Summary    string          `json:"summary"`
}

// Validate re-verifies a manifest against the artifacts on disk: existence,
// exact byte size, and recomputed digest for every declared artifact, plus
// the manifest's own format version and self-hash. All artifact checks run
// concurrently; each check touches only its own file.
func Validate(manifestPath string) (*Report, error) {
	m, err := ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	baseDir := filepath.Dir(manifestPath)

	report := &Report{
		Manifest:  manifestPath,
		Period:    m.Period.String(),
		Timestamp: time.Now().UTC(),
	}

	report.Checks = append(report.Checks, checkFormatVersion(m))
	report.Checks = append(report.Checks, checkSelfHash(m))

	names := make([]string, 0, len(m.Artifacts))
	for name := range m.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]ArtifactCheck, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = checkArtifact(name, m.Artifacts[name], baseDir)
		}(i, name)
	}
	wg.Wait()
	report.Checks = append(report.Checks, results...)

	report.Verified = true
	for _, c := range report.Checks {
		if c.Status != StatusOK {
			report.Verified = false
			report.IssueCount++
		}
	}
	if report.Verified {
		report.Summary = fmt.Sprintf("PASS: %d/%d checks passed", len(report.Checks), len(report.Checks))
	} else {
		report.Summary = fmt.Sprintf("FAIL: %d/%d checks failed", report.IssueCount, len(report.Checks))
	}
	return report, nil
}

func checkFormatVersion(m *Manifest) ArtifactCheck {
	check := ArtifactCheck{Name: "format_version", Status: StatusOK}
	v, err := semver.NewVersion(m.FormatVersion)
	if err != nil {
		check.Status = StatusHashMismatch
		check.Detail = fmt.Sprintf("unparseable format_version %q", m.FormatVersion)
		return check
	}
	supported := semver.MustParse(FormatVersion)
	if v.Major() != supported.Major() {
		check.Status = StatusHashMismatch
		check.Detail = fmt.Sprintf("format_version %s incompatible with validator %s", v, supported)
	}
	return check
}

func checkSelfHash(m *Manifest) ArtifactCheck {
	check := ArtifactCheck{Name: "bundle_hash", Status: StatusOK}
	if m.BundleHash == "" {
		// Legacy manifests without a self-hash are tolerated; artifact
		// digests still anchor everything the bundle declares.
		return check
	}
	computed, err := m.SelfHash()
	if err != nil {
		check.Status = StatusHashMismatch
		check.Detail = err.Error()
		return check
	}
	if computed != m.BundleHash {
		check.Status = StatusHashMismatch
		check.Expected = m.BundleHash
		check.Actual = computed
		check.Detail = "manifest self-hash does not match its canonical form"
	}
	return check
}

func checkArtifact(name string, entry ArtifactEntry, baseDir string) ArtifactCheck {
	check := ArtifactCheck{
		Name:     name,
		Path:     entry.Path,
		Status:   StatusOK,
		Expected: entry.SHA256,
	}
	full := entry.Path
	if !filepath.IsAbs(full) {
		full = filepath.Join(baseDir, filepath.FromSlash(entry.Path))
	}
	digest, size, err := canonicalize.HashFile(full)
	if err != nil {
		check.Status = StatusMissing
		check.Detail = err.Error()
		return check
	}
	if size != entry.Bytes {
		check.Status = StatusSizeMismatch
		check.Detail = fmt.Sprintf("size %d bytes, manifest declares %d", size, entry.Bytes)
		return check
	}
	check.Actual = digest
	if digest != entry.SHA256 {
		check.Status = StatusHashMismatch
		check.Detail = "recomputed digest does not match manifest"
	}
	return check
}
