package sqlstore

import (
	"fmt"

	"gorm.io/gorm"

	"whistlechain/native/bounty"
)

// Timestamp columns are unix seconds. Fields avoid gorm's CreatedAt naming
// so the values written by the engine are stored untouched.

type bountyRow struct {
	ID            string `gorm:"primaryKey;size:66"`
	Creator       string `gorm:"size:256;index"`
	Nonce         uint64
	Title         string `gorm:"size:256"`
	Description   string `gorm:"size:512"`
	Amount        uint64 `gorm:"not null"`
	Token         uint8  `gorm:"not null"`
	Status        uint8  `gorm:"not null;index"`
	VerifiedClaim string `gorm:"size:66"`
	CreatedUnix   int64  `gorm:"column:created_unix;index"`
	ClosedUnix    int64  `gorm:"column:closed_unix"`
}

func (bountyRow) TableName() string { return "bounties" }

type tipRow struct {
	ID                string `gorm:"primaryKey;size:66"`
	BountyID          string `gorm:"size:66;index"`
	Submitter         string `gorm:"size:256"`
	EvidenceReference string `gorm:"size:128"`
	EncryptedPayload  string `gorm:"size:512"`
	CreatedUnix       int64  `gorm:"column:created_unix"`
}

func (tipRow) TableName() string { return "bounty_tips" }

type claimRow struct {
	ID          string `gorm:"primaryKey;size:66"`
	BountyID    string `gorm:"size:66;index"`
	Claimant    string `gorm:"size:256"`
	Proof       string `gorm:"size:256"`
	Status      uint8  `gorm:"not null;index"`
	DecidedBy   string `gorm:"size:256"`
	CreatedUnix int64  `gorm:"column:created_unix"`
	DecidedUnix int64  `gorm:"column:decided_unix"`
}

func (claimRow) TableName() string { return "bounty_claims" }

type nonceRow struct {
	Creator string `gorm:"primaryKey;size:256"`
	Next    uint64 `gorm:"not null"`
}

func (nonceRow) TableName() string { return "bounty_nonces" }

type balanceRow struct {
	Owner  string `gorm:"primaryKey;size:256"`
	Token  uint8  `gorm:"primaryKey"`
	Amount string `gorm:"size:80;not null"`
}

func (balanceRow) TableName() string { return "ledger_balances" }

type escrowRow struct {
	BountyID  string `gorm:"primaryKey;size:66"`
	Token     uint8  `gorm:"not null"`
	Amount    uint64 `gorm:"not null"`
	Locked    uint64 `gorm:"not null"`
	Settled   uint8
	Recipient string `gorm:"size:256"`
}

func (escrowRow) TableName() string { return "ledger_escrows" }

// AutoMigrate creates or updates the bounty tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&bountyRow{}, &tipRow{}, &claimRow{}, &nonceRow{}, &balanceRow{}, &escrowRow{})
}

func parseID(s string) (bounty.ID, error) {
	if s == "" {
		return bounty.ID{}, nil
	}
	id, err := bounty.ParseID(s)
	if err != nil {
		return bounty.ID{}, fmt.Errorf("sqlstore: stored id %q: %w", s, err)
	}
	return id, nil
}

func hexOrEmpty(id bounty.ID) string {
	if id.IsZero() {
		return ""
	}
	return id.Hex()
}

func newBountyRow(b *bounty.Bounty) *bountyRow {
	return &bountyRow{
		ID:            b.ID.Hex(),
		Creator:       b.Creator.String(),
		Nonce:         b.Nonce,
		Title:         b.Title,
		Description:   b.Description,
		Amount:        b.Amount,
		Token:         uint8(b.Token),
		Status:        uint8(b.Status),
		VerifiedClaim: hexOrEmpty(b.VerifiedClaim),
		CreatedUnix:   b.CreatedAt,
		ClosedUnix:    b.ClosedAt,
	}
}

func (r *bountyRow) toBounty() (*bounty.Bounty, error) {
	id, err := parseID(r.ID)
	if err != nil {
		return nil, err
	}
	verified, err := parseID(r.VerifiedClaim)
	if err != nil {
		return nil, err
	}
	return &bounty.Bounty{
		ID:            id,
		Creator:       bounty.Identity(r.Creator),
		Nonce:         r.Nonce,
		Title:         r.Title,
		Description:   r.Description,
		Amount:        r.Amount,
		Token:         bounty.TokenType(r.Token),
		Status:        bounty.BountyStatus(r.Status),
		VerifiedClaim: verified,
		CreatedAt:     r.CreatedUnix,
		ClosedAt:      r.ClosedUnix,
	}, nil
}

func newTipRow(t *bounty.Tip) *tipRow {
	return &tipRow{
		ID:                t.ID.Hex(),
		BountyID:          t.BountyID.Hex(),
		Submitter:         t.Submitter.String(),
		EvidenceReference: t.EvidenceReference,
		EncryptedPayload:  t.EncryptedPayload,
		CreatedUnix:       t.CreatedAt,
	}
}

func (r *tipRow) toTip() (*bounty.Tip, error) {
	id, err := parseID(r.ID)
	if err != nil {
		return nil, err
	}
	bountyID, err := parseID(r.BountyID)
	if err != nil {
		return nil, err
	}
	return &bounty.Tip{
		ID:                id,
		BountyID:          bountyID,
		Submitter:         bounty.Identity(r.Submitter),
		EvidenceReference: r.EvidenceReference,
		EncryptedPayload:  r.EncryptedPayload,
		CreatedAt:         r.CreatedUnix,
	}, nil
}

func newClaimRow(c *bounty.Claim) *claimRow {
	return &claimRow{
		ID:          c.ID.Hex(),
		BountyID:    c.BountyID.Hex(),
		Claimant:    c.Claimant.String(),
		Proof:       c.Proof,
		Status:      uint8(c.Status),
		DecidedBy:   c.DecidedBy.String(),
		CreatedUnix: c.CreatedAt,
		DecidedUnix: c.DecidedAt,
	}
}

func (r *claimRow) toClaim() (*bounty.Claim, error) {
	id, err := parseID(r.ID)
	if err != nil {
		return nil, err
	}
	bountyID, err := parseID(r.BountyID)
	if err != nil {
		return nil, err
	}
	return &bounty.Claim{
		ID:        id,
		BountyID:  bountyID,
		Claimant:  bounty.Identity(r.Claimant),
		Proof:     r.Proof,
		Status:    bounty.ClaimStatus(r.Status),
		DecidedBy: bounty.Identity(r.DecidedBy),
		CreatedAt: r.CreatedUnix,
		DecidedAt: r.DecidedUnix,
	}, nil
}

func newEscrowRow(e *bounty.EscrowEntry) *escrowRow {
	return &escrowRow{
		BountyID:  e.BountyID.Hex(),
		Token:     uint8(e.Token),
		Amount:    e.Amount,
		Locked:    e.Locked,
		Settled:   uint8(e.Settled),
		Recipient: e.Recipient.String(),
	}
}

func (r *escrowRow) toEntry() (*bounty.EscrowEntry, error) {
	id, err := parseID(r.BountyID)
	if err != nil {
		return nil, err
	}
	return &bounty.EscrowEntry{
		BountyID:  id,
		Token:     bounty.TokenType(r.Token),
		Amount:    r.Amount,
		Locked:    r.Locked,
		Settled:   bounty.SettlementKind(r.Settled),
		Recipient: bounty.Identity(r.Recipient),
	}, nil
}
