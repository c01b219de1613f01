package bounty

import (
	"strconv"

	"whistlechain/core/types"
)

const (
	EventTypeBountyCreated  = "bounty.created"
	EventTypeTipSubmitted   = "bounty.tip.submitted"
	EventTypeClaimSubmitted = "bounty.claim.submitted"
	EventTypeClaimVerified  = "bounty.claim.verified"
	EventTypeClaimRejected  = "bounty.claim.rejected"
	EventTypeBountyClosed   = "bounty.closed"
	EventTypeDeposit        = "bounty.ledger.deposit"
)

// NewCreatedEvent returns the canonical payload for a newly funded bounty.
func NewCreatedEvent(b *Bounty) *types.Event {
	attrs := bountyAttributes(b)
	return &types.Event{Type: EventTypeBountyCreated, Attributes: attrs}
}

// NewTipSubmittedEvent returns the payload for a filed tip. The encrypted
// payload is deliberately omitted.
func NewTipSubmittedEvent(t *Tip) *types.Event {
	attrs := make(map[string]string)
	if t != nil {
		attrs["id"] = t.ID.Hex()
		attrs["bountyId"] = t.BountyID.Hex()
		attrs["submitter"] = t.Submitter.String()
		attrs["evidenceReference"] = t.EvidenceReference
		attrs["createdAt"] = strconv.FormatInt(t.CreatedAt, 10)
	}
	return &types.Event{Type: EventTypeTipSubmitted, Attributes: attrs}
}

// NewClaimSubmittedEvent returns the payload for a new pending claim.
func NewClaimSubmittedEvent(c *Claim) *types.Event {
	return &types.Event{Type: EventTypeClaimSubmitted, Attributes: claimAttributes(c)}
}

// NewClaimDecidedEvent returns the verified or rejected payload depending on
// the claim's terminal status.
func NewClaimDecidedEvent(c *Claim) *types.Event {
	eventType := EventTypeClaimRejected
	if c != nil && c.Status == ClaimVerified {
		eventType = EventTypeClaimVerified
	}
	return &types.Event{Type: eventType, Attributes: claimAttributes(c)}
}

// NewClosedEvent returns the payload for a closed bounty and its settlement.
func NewClosedEvent(b *Bounty, s *Settlement) *types.Event {
	attrs := bountyAttributes(b)
	if s != nil {
		attrs["settlement"] = s.Kind.String()
		attrs["recipient"] = s.Recipient.String()
		attrs["settledAmount"] = strconv.FormatUint(s.Amount, 10)
	}
	return &types.Event{Type: EventTypeBountyClosed, Attributes: attrs}
}

// NewDepositEvent returns the payload for value credited from outside.
func NewDepositEvent(owner Identity, token TokenType, amount uint64) *types.Event {
	return &types.Event{Type: EventTypeDeposit, Attributes: map[string]string{
		"owner":     owner.String(),
		"tokenType": token.String(),
		"amount":    strconv.FormatUint(amount, 10),
	}}
}

func bountyAttributes(b *Bounty) map[string]string {
	attrs := make(map[string]string)
	if b == nil {
		return attrs
	}
	attrs["id"] = b.ID.Hex()
	attrs["creator"] = b.Creator.String()
	attrs["title"] = b.Title
	attrs["amount"] = strconv.FormatUint(b.Amount, 10)
	attrs["tokenType"] = b.Token.String()
	attrs["status"] = b.Status.String()
	attrs["createdAt"] = strconv.FormatInt(b.CreatedAt, 10)
	if !b.VerifiedClaim.IsZero() {
		attrs["verifiedClaim"] = b.VerifiedClaim.Hex()
	}
	return attrs
}

func claimAttributes(c *Claim) map[string]string {
	attrs := make(map[string]string)
	if c == nil {
		return attrs
	}
	attrs["id"] = c.ID.Hex()
	attrs["bountyId"] = c.BountyID.Hex()
	attrs["claimant"] = c.Claimant.String()
	attrs["status"] = c.Status.String()
	if !c.DecidedBy.IsZero() {
		attrs["decidedBy"] = c.DecidedBy.String()
	}
	return attrs
}
