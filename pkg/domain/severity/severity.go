// Package severity implements the gateway's single total ordering over
// finding severities. Every component that compares, filters, or gates on
// severity does so through this package rather than re-deriving an order.
package severity

import "strings"

// Severity is an ordinal finding severity. Zero value is Informational, the
// least severe level, so a missing/unparsed Severity never silently
// outranks a real one.
type Severity int

const (
	Informational Severity = iota
	Low
	Medium
	High
	Critical
)

var names = [...]string{"informational", "low", "medium", "high", "critical"}

// String returns the lowercase canonical name.
func (s Severity) String() string {
	if s < Informational || s > Critical {
		return "unknown"
	}
	return names[s]
}

// Parse maps a case-insensitive name to a Severity. Unknown input returns
// Low, not Informational, with ok=false; the caller decides whether to use
// that fallback or reject the input (the manifest loader rejects it).
func Parse(name string) (Severity, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, candidate := range names {
		if candidate == n {
			return Severity(i), true
		}
	}
	return Low, false
}

// AtLeast reports whether s meets or exceeds floor on the ordinal scale.
// This is the only comparison the model exposes: no distance, no
// subtraction, just the floor check gating and config code need.
func (s Severity) AtLeast(floor Severity) bool {
	return s >= floor
}
