// Package baseline persists, per repository, the set of finding fingerprints
// already reported so the orchestrator's differential mode can compute
// "new since last scan" instead of reporting every finding on every push.
package baseline

import (
	"context"

	"github.com/audit-pit-crew/gateway/pkg/domain/finding"
)

// Key identifies a baseline record. The store's schema keys records as
// "{owner}:{repo}", so Key is already in that form by the time it reaches
// the store.
type Key string

// NewKey builds the store key for a repository.
func NewKey(owner, repo string) Key {
	return Key(owner + ":" + repo)
}

// Baseline is the persisted fingerprint set for one repository.
type Baseline struct {
	Fingerprints map[finding.Fingerprint]struct{}
}

// Empty returns a Baseline with no fingerprints, the value read returns for
// any repository that has never been scanned before.
func Empty() Baseline {
	return Baseline{Fingerprints: make(map[finding.Fingerprint]struct{})}
}

// Store is the baseline persistence contract. Read never errors on a
// missing key — it returns Empty() — since "never scanned before" is a
// normal, expected state, not a failure. Write atomically replaces the
// record for key; it is the gateway's only piece of state shared across
// concurrent jobs, and last-writer-wins is an accepted property of that
// sharing, not a bug, since two jobs racing for the same repository only
// happens on near-simultaneous pushes and either outcome is a valid
// baseline for the next scan.
type Store interface {
	Read(ctx context.Context, key Key) (Baseline, error)
	Write(ctx context.Context, key Key, b Baseline) error
	Close() error
}
