package bounty

import "testing"

func TestTipEventOmitsPayload(t *testing.T) {
	tip := &Tip{ID: ID{1}, BountyID: ID{2}, Submitter: "bob", EvidenceReference: "b3:ref", EncryptedPayload: "secret"}
	evt := NewTipSubmittedEvent(tip)
	if evt.Type != EventTypeTipSubmitted {
		t.Fatalf("unexpected type %q", evt.Type)
	}
	for k, v := range evt.Attributes {
		if v == "secret" {
			t.Fatalf("payload leaked through attribute %q", k)
		}
	}
	if evt.Attributes["evidenceReference"] != "b3:ref" {
		t.Fatalf("expected evidence reference")
	}
}

func TestClaimDecidedEventType(t *testing.T) {
	c := &Claim{ID: ID{1}, BountyID: ID{2}, Claimant: "bob", Status: ClaimVerified, DecidedBy: "alice"}
	if evt := NewClaimDecidedEvent(c); evt.Type != EventTypeClaimVerified || evt.Attributes["decidedBy"] != "alice" {
		t.Fatalf("unexpected verified event %+v", evt)
	}
	c.Status = ClaimRejected
	if evt := NewClaimDecidedEvent(c); evt.Type != EventTypeClaimRejected {
		t.Fatalf("unexpected rejected event %+v", evt)
	}
}

func TestClosedEventCarriesSettlement(t *testing.T) {
	b := &Bounty{ID: ID{1}, Creator: "alice", Amount: 10, Token: TokenNative, Status: BountyClosed}
	evt := NewClosedEvent(b, &Settlement{BountyID: b.ID, Kind: SettlementRefund, Recipient: "alice", Amount: 10})
	if evt.Attributes["settlement"] != "refund" || evt.Attributes["settledAmount"] != "10" || evt.Attributes["status"] != "closed" {
		t.Fatalf("unexpected attributes %+v", evt.Attributes)
	}
}
