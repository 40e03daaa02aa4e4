package baseline

import (
	"context"
	"testing"

	"github.com/audit-pit-crew/gateway/pkg/domain/finding"
)

func TestMemoryStoreReadMissingReturnsEmpty(t *testing.T) {
	s := NewMemoryStore()
	b, err := s.Read(context.Background(), NewKey("acme", "vault"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Fingerprints) != 0 {
		t.Fatalf("expected empty baseline, got %d entries", len(b.Fingerprints))
	}
}

func TestMemoryStoreWriteThenReadRoundTrips(t *testing.T) {
	s := NewMemoryStore()
	key := NewKey("acme", "vault")

	b := Empty()
	b.Fingerprints[finding.Fingerprint("slither|reentrancy|A.sol|10")] = struct{}{}

	if err := s.Write(context.Background(), key, b); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	got, err := s.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if len(got.Fingerprints) != 1 {
		t.Fatalf("expected 1 fingerprint, got %d", len(got.Fingerprints))
	}
}

func TestMemoryStoreWriteReplacesAtomically(t *testing.T) {
	s := NewMemoryStore()
	key := NewKey("acme", "vault")

	first := Empty()
	first.Fingerprints[finding.Fingerprint("slither|a|A.sol|1")] = struct{}{}
	_ = s.Write(context.Background(), key, first)

	second := Empty()
	second.Fingerprints[finding.Fingerprint("slither|b|B.sol|2")] = struct{}{}
	_ = s.Write(context.Background(), key, second)

	got, _ := s.Read(context.Background(), key)
	if _, ok := got.Fingerprints[finding.Fingerprint("slither|a|A.sol|1")]; ok {
		t.Fatal("expected the first write to be fully replaced, not merged")
	}
	if _, ok := got.Fingerprints[finding.Fingerprint("slither|b|B.sol|2")]; !ok {
		t.Fatal("expected the second write's fingerprint to be present")
	}
}

func TestNewKeyFormat(t *testing.T) {
	if NewKey("acme", "vault") != "acme:vault" {
		t.Fatalf("expected key format owner:repo, got %q", NewKey("acme", "vault"))
	}
}
