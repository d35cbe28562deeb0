package contracts

import (
	"errors"
	"fmt"
)

// Stable outcome codes. Automation (CI, audit scripts) branches on these;
// they MUST NOT change between releases.
const (
	// CodeConfiguration covers budget <= 0, no eligible providers, or a
	// floor sum exceeding the budget. Fatal before any artifact is written.
	CodeConfiguration = "ERR_CONFIGURATION"

	// CodeCoverageInconsistent marks a period whose eligible coverage bounds
	// sum below 1. Non-fatal: the solver applies the documented fallback and
	// records the flag in the floor artifact.
	CodeCoverageInconsistent = "ERR_COVERAGE_INCONSISTENT"

	// CodeIntegrityViolation is a chain or bundle digest/size mismatch found
	// during verification. Fatal for that verification call.
	CodeIntegrityViolation = "ERR_INTEGRITY_VIOLATION"

	// CodeMissingArtifact is a declared or required file that does not exist
	// or cannot be read.
	CodeMissingArtifact = "ERR_MISSING_ARTIFACT"

	// CodeUpstreamData is a malformed aggregate input reaching the core
	// boundary (negative weight, coverage bound outside (0,1], ...).
	CodeUpstreamData = "ERR_UPSTREAM_DATA"
)

// Process exit codes, one per error class, so callers can branch without
// parsing prose.
const (
	ExitOK            = 0
	ExitUsage         = 1
	ExitConfiguration = 2
	ExitIntegrity     = 3
	ExitMissing       = 4
	ExitUpstreamData  = 5
)

// CodedError is a settlement error with a stable machine-readable code.
// Field is set for upstream-data errors to name the offending field.
type CodedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *CodedError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewConfigurationError builds a fatal configuration error.
func NewConfigurationError(format string, args ...any) error {
	return &CodedError{Code: CodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

// NewIntegrityError builds a verification integrity error.
func NewIntegrityError(format string, args ...any) error {
	return &CodedError{Code: CodeIntegrityViolation, Message: fmt.Sprintf(format, args...)}
}

// NewMissingArtifactError builds a missing/unreadable artifact error.
func NewMissingArtifactError(format string, args ...any) error {
	return &CodedError{Code: CodeMissingArtifact, Message: fmt.Sprintf(format, args...)}
}

// NewUpstreamDataError builds a field-level upstream data error.
func NewUpstreamDataError(field, message string) error {
	return &CodedError{Code: CodeUpstreamData, Message: message, Field: field}
}

// CodeOf extracts the stable code from err, unwrapping as needed.
// Returns the empty string for unclassified errors.
func CodeOf(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// ExitCodeFor maps an error to the documented process exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	switch CodeOf(err) {
	case CodeConfiguration:
		return ExitConfiguration
	case CodeIntegrityViolation:
		return ExitIntegrity
	case CodeMissingArtifact:
		return ExitMissing
	case CodeUpstreamData:
		return ExitUpstreamData
	default:
		return ExitUsage
	}
}
