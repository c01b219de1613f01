package kvstore

import (
	"fmt"

	"github.com/holiman/uint256"

	"whistlechain/native/bounty"
)

// Records are stored RLP encoded. RLP has no signed integers so timestamps
// travel as uint64 and are rejected when negative.

type storedBounty struct {
	ID            [32]byte
	Creator       string
	Nonce         uint64
	Title         string
	Description   string
	Amount        uint64
	Token         uint8
	Status        uint8
	VerifiedClaim [32]byte
	CreatedAt     uint64
	ClosedAt      uint64
}

func newStoredBounty(b *bounty.Bounty) (*storedBounty, error) {
	created, err := toUnix(b.CreatedAt)
	if err != nil {
		return nil, err
	}
	closed, err := toUnix(b.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &storedBounty{
		ID:            b.ID,
		Creator:       b.Creator.String(),
		Nonce:         b.Nonce,
		Title:         b.Title,
		Description:   b.Description,
		Amount:        b.Amount,
		Token:         uint8(b.Token),
		Status:        uint8(b.Status),
		VerifiedClaim: b.VerifiedClaim,
		CreatedAt:     created,
		ClosedAt:      closed,
	}, nil
}

func (s *storedBounty) toBounty() *bounty.Bounty {
	return &bounty.Bounty{
		ID:            s.ID,
		Creator:       bounty.Identity(s.Creator),
		Nonce:         s.Nonce,
		Title:         s.Title,
		Description:   s.Description,
		Amount:        s.Amount,
		Token:         bounty.TokenType(s.Token),
		Status:        bounty.BountyStatus(s.Status),
		VerifiedClaim: s.VerifiedClaim,
		CreatedAt:     int64(s.CreatedAt),
		ClosedAt:      int64(s.ClosedAt),
	}
}

type storedTip struct {
	ID                [32]byte
	BountyID          [32]byte
	Submitter         string
	EvidenceReference string
	EncryptedPayload  string
	CreatedAt         uint64
}

func newStoredTip(t *bounty.Tip) (*storedTip, error) {
	created, err := toUnix(t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &storedTip{
		ID:                t.ID,
		BountyID:          t.BountyID,
		Submitter:         t.Submitter.String(),
		EvidenceReference: t.EvidenceReference,
		EncryptedPayload:  t.EncryptedPayload,
		CreatedAt:         created,
	}, nil
}

func (s *storedTip) toTip() *bounty.Tip {
	return &bounty.Tip{
		ID:                s.ID,
		BountyID:          s.BountyID,
		Submitter:         bounty.Identity(s.Submitter),
		EvidenceReference: s.EvidenceReference,
		EncryptedPayload:  s.EncryptedPayload,
		CreatedAt:         int64(s.CreatedAt),
	}
}

type storedClaim struct {
	ID        [32]byte
	BountyID  [32]byte
	Claimant  string
	Proof     string
	Status    uint8
	DecidedBy string
	CreatedAt uint64
	DecidedAt uint64
}

func newStoredClaim(c *bounty.Claim) (*storedClaim, error) {
	created, err := toUnix(c.CreatedAt)
	if err != nil {
		return nil, err
	}
	decided, err := toUnix(c.DecidedAt)
	if err != nil {
		return nil, err
	}
	return &storedClaim{
		ID:        c.ID,
		BountyID:  c.BountyID,
		Claimant:  c.Claimant.String(),
		Proof:     c.Proof,
		Status:    uint8(c.Status),
		DecidedBy: c.DecidedBy.String(),
		CreatedAt: created,
		DecidedAt: decided,
	}, nil
}

func (s *storedClaim) toClaim() *bounty.Claim {
	return &bounty.Claim{
		ID:        s.ID,
		BountyID:  s.BountyID,
		Claimant:  bounty.Identity(s.Claimant),
		Proof:     s.Proof,
		Status:    bounty.ClaimStatus(s.Status),
		DecidedBy: bounty.Identity(s.DecidedBy),
		CreatedAt: int64(s.CreatedAt),
		DecidedAt: int64(s.DecidedAt),
	}
}

type storedEscrow struct {
	BountyID  [32]byte
	Token     uint8
	Amount    uint64
	Locked    uint64
	Settled   uint8
	Recipient string
}

func newStoredEscrow(e *bounty.EscrowEntry) *storedEscrow {
	return &storedEscrow{
		BountyID:  e.BountyID,
		Token:     uint8(e.Token),
		Amount:    e.Amount,
		Locked:    e.Locked,
		Settled:   uint8(e.Settled),
		Recipient: e.Recipient.String(),
	}
}

func (s *storedEscrow) toEntry() *bounty.EscrowEntry {
	return &bounty.EscrowEntry{
		BountyID:  s.BountyID,
		Token:     bounty.TokenType(s.Token),
		Amount:    s.Amount,
		Locked:    s.Locked,
		Settled:   bounty.SettlementKind(s.Settled),
		Recipient: bounty.Identity(s.Recipient),
	}
}

type storedBalance struct {
	Amount *uint256.Int
}

func toUnix(ts int64) (uint64, error) {
	if ts < 0 {
		return 0, fmt.Errorf("kvstore: negative timestamp %d", ts)
	}
	return uint64(ts), nil
}
