package bounty

import "testing"

func TestDeriveBountyIDDeterministic(t *testing.T) {
	if DeriveBountyID("alice", 3) != DeriveBountyID(" alice ", 3) {
		t.Fatalf("expected normalization before hashing")
	}
	if DeriveBountyID("alice", 0) == DeriveBountyID("alice", 1) {
		t.Fatalf("expected nonce to change id")
	}
	if DeriveBountyID("alice", 0) == DeriveBountyID("bob", 0) {
		t.Fatalf("expected first bounties of different creators to differ")
	}
}

func TestDeriveChildIDsSeparateDomains(t *testing.T) {
	b := DeriveBountyID("alice", 0)
	if DeriveTipID(b, "bob") == DeriveClaimID(b, "bob") {
		t.Fatalf("tip and claim ids must not collide")
	}
	if DeriveTipID(b, "bob") != DeriveTipID(b, "bob") {
		t.Fatalf("expected deterministic tip id")
	}
	other := DeriveBountyID("alice", 1)
	if DeriveClaimID(b, "bob") == DeriveClaimID(other, "bob") {
		t.Fatalf("expected claim id to depend on bounty")
	}
}

func TestLengthPrefixAvoidsAmbiguity(t *testing.T) {
	if DeriveBountyID("ab", 0) == DeriveBountyID("a", 0) {
		t.Fatalf("unexpected collision")
	}
	if string(lengthPrefixed("ab")[:4]) != "\x00\x00\x00\x02" {
		t.Fatalf("unexpected prefix %x", lengthPrefixed("ab")[:4])
	}
}
