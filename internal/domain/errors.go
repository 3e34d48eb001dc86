package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the assessment pipeline.
var (
	// ErrInvalidTransaction marks malformed input rejected before scoring.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrComponentUnavailable marks a component that could not produce a
	// score this run. Handled by weight renormalization, never fatal.
	ErrComponentUnavailable = errors.New("component unavailable")

	// ErrComponentTimeout marks a component that exceeded its evaluation
	// budget. Treated like ErrComponentUnavailable but logged distinctly.
	ErrComponentTimeout = errors.New("component timeout")

	// ErrAllComponentsUnavailable is fatal for a single assessment: the
	// engine never fabricates a decision without at least one real score.
	ErrAllComponentsUnavailable = errors.New("all scoring components unavailable")

	// ErrNotFound is returned by lookups for unknown records.
	ErrNotFound = errors.New("record not found")
)

// ConfigError reports one or more validation failures in a scoring
// configuration. A reload that produces a ConfigError is rejected and the
// previous valid configuration stays active.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid scoring config: %s", strings.Join(e.Problems, "; "))
}

// Add records a validation problem.
func (e *ConfigError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// OrNil returns the error if any problem was recorded, nil otherwise.
func (e *ConfigError) OrNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
