package finding

import (
	"testing"

	"github.com/audit-pit-crew/gateway/pkg/domain/severity"
)

func mk(tool, typ, file string, line int) Finding {
	return Finding{Tool: tool, Type: typ, File: file, Line: line, Severity: severity.Medium}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := mk("slither", "reentrancy", "contracts/Vault.sol", 42)
	b := mk("slither", "reentrancy", "contracts/Vault.sol", 42)
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical findings should fingerprint identically")
	}
}

func TestFingerprintDistinguishesFields(t *testing.T) {
	base := mk("slither", "reentrancy", "contracts/Vault.sol", 42)
	variants := []Finding{
		mk("mythril", "reentrancy", "contracts/Vault.sol", 42),
		mk("slither", "unchecked-call", "contracts/Vault.sol", 42),
		mk("slither", "reentrancy", "contracts/Token.sol", 42),
		mk("slither", "reentrancy", "contracts/Vault.sol", 43),
	}
	for _, v := range variants {
		if v.Fingerprint() == base.Fingerprint() {
			t.Fatalf("expected distinct fingerprint for %+v", v)
		}
	}
}

func TestDedupKeepsFirstOccurrenceOrder(t *testing.T) {
	first := mk("slither", "reentrancy", "contracts/Vault.sol", 42)
	first.Title = "first"
	dup := first
	dup.Title = "duplicate"
	other := mk("slither", "tx-origin", "contracts/Vault.sol", 10)

	got := Dedup([]Finding{first, dup, other})
	if len(got) != 2 {
		t.Fatalf("expected 2 findings after dedup, got %d", len(got))
	}
	if got[0].Title != "first" {
		t.Fatalf("expected first occurrence kept, got title %q", got[0].Title)
	}
	if got[1].Fingerprint() != other.Fingerprint() {
		t.Fatal("expected order preserved for survivor")
	}
}

func TestDedupIdempotent(t *testing.T) {
	f := []Finding{mk("slither", "reentrancy", "contracts/Vault.sol", 42)}
	once := Dedup(f)
	twice := Dedup(once)
	if len(once) != len(twice) {
		t.Fatal("dedup should be idempotent")
	}
}

func TestNewRelativeToBaseline(t *testing.T) {
	known := mk("slither", "reentrancy", "contracts/Vault.sol", 42)
	fresh := mk("slither", "tx-origin", "contracts/Vault.sol", 10)
	baseline := Fingerprints([]Finding{known})

	newOnes := NewRelativeTo([]Finding{known, fresh}, baseline)
	if len(newOnes) != 1 || newOnes[0].Fingerprint() != fresh.Fingerprint() {
		t.Fatalf("expected only the fresh finding to be new, got %+v", newOnes)
	}
}

func TestNewRelativeToEmptyBaselineReturnsAll(t *testing.T) {
	f := []Finding{mk("slither", "a", "x.sol", 1), mk("slither", "b", "x.sol", 2)}
	newOnes := NewRelativeTo(f, map[Fingerprint]struct{}{})
	if len(newOnes) != 2 {
		t.Fatalf("expected all findings to be new against empty baseline, got %d", len(newOnes))
	}
}
