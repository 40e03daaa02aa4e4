// Package finding defines the normalized unit every tool adapter produces
// and the deterministic fingerprint used to deduplicate and diff findings
// across scans.
package finding

import (
	"encoding/json"
	"fmt"

	"github.com/audit-pit-crew/gateway/pkg/domain/severity"
)

// Finding is one normalized issue reported by a tool adapter.
type Finding struct {
	Tool        string            `json:"tool"`
	Type        string            `json:"type"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	File        string            `json:"file"`
	Line        int               `json:"line"`
	Severity    severity.Severity `json:"severity"`
	Confidence  string            `json:"confidence,omitempty"`
	Raw         json.RawMessage   `json:"raw,omitempty"`
}

// Fingerprint is the deterministic identity of a Finding, used for dedup
// within a single scan and for baseline diffing across scans. Two findings
// from the same tool, of the same type, at the same file:line, are the same
// finding even if their free-text title or description differs between
// tool versions.
type Fingerprint string

// Fingerprint computes f's identity. The format is fixed and must never
// change without also migrating stored baselines: tool|type|file|line.
func (f Finding) Fingerprint() Fingerprint {
	return Fingerprint(fmt.Sprintf("%s|%s|%s|%d", f.Tool, f.Type, f.File, f.Line))
}

// Dedup removes findings sharing a fingerprint, keeping the first
// occurrence and preserving the relative order of survivors.
func Dedup(findings []Finding) []Finding {
	seen := make(map[Fingerprint]struct{}, len(findings))
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		fp := f.Fingerprint()
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Fingerprints returns the fingerprint set of findings, for baseline
// comparison.
func Fingerprints(findings []Finding) map[Fingerprint]struct{} {
	set := make(map[Fingerprint]struct{}, len(findings))
	for _, f := range findings {
		set[f.Fingerprint()] = struct{}{}
	}
	return set
}

// Filter returns the findings at or above floor, preserving order. Used by
// adapters to apply min_severity before returning, and tested for the
// monotonicity property: filter(F, t) is a subset of filter(F, s) whenever
// s <= t.
func Filter(findings []Finding, floor severity.Severity) []Finding {
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.Severity.AtLeast(floor) {
			out = append(out, f)
		}
	}
	return out
}

// NewRelativeTo returns the subset of findings whose fingerprint
// is absent from baseline — the differential-scan result a PR comment
// reports.
func NewRelativeTo(findings []Finding, baseline map[Fingerprint]struct{}) []Finding {
	var out []Finding
	for _, f := range findings {
		if _, known := baseline[f.Fingerprint()]; !known {
			out = append(out, f)
		}
	}
	return out
}
