package bounty

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Field limits enforced on user supplied strings, measured in bytes.
const (
	MaxTitleBytes             = 200
	MaxDescriptionBytes       = 500
	MaxEvidenceReferenceBytes = 100
	MaxEncryptedPayloadBytes  = 500
	MaxProofBytes             = 200
)

// Identity is the authenticated, opaque key of an actor. Identities are
// compared byte-for-byte after trimming surrounding whitespace.
type Identity string

// Normalize returns the canonical form of the identity.
func (i Identity) Normalize() Identity { return Identity(strings.TrimSpace(string(i))) }

// IsZero reports whether the identity is empty.
func (i Identity) IsZero() bool { return i.Normalize() == "" }

func (i Identity) String() string { return string(i) }

// ID is the deterministic 32 byte identifier shared by bounties, tips and
// claims.
type ID [32]byte

// ParseID decodes a hex encoded identifier, with or without a 0x prefix.
func ParseID(s string) (ID, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	var id ID
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("%w: invalid id: %v", ErrInvalidArgument, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("%w: id must be %d bytes", ErrInvalidArgument, len(id))
	}
	copy(id[:], raw)
	return id, nil
}

// IsZero reports whether the identifier is unset.
func (id ID) IsZero() bool { return id == ID{} }

// Hex returns the 0x-prefixed hex encoding.
func (id ID) Hex() string { return "0x" + hex.EncodeToString(id[:]) }

func (id ID) String() string { return id.Hex() }

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) { return []byte(id.Hex()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// TokenType selects the asset a bounty is denominated in.
type TokenType uint8

const (
	TokenNative TokenType = iota + 1
	TokenStable
)

// Valid reports whether the token type is a known variant.
func (t TokenType) Valid() bool {
	switch t {
	case TokenNative, TokenStable:
		return true
	default:
		return false
	}
}

func (t TokenType) String() string {
	switch t {
	case TokenNative:
		return "NATIVE"
	case TokenStable:
		return "STABLE"
	default:
		return fmt.Sprintf("TokenType(%d)", uint8(t))
	}
}

// ParseTokenType accepts the canonical names case-insensitively.
func ParseTokenType(s string) (TokenType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NATIVE":
		return TokenNative, nil
	case "STABLE":
		return TokenStable, nil
	default:
		return 0, fmt.Errorf("%w: unsupported token type %q", ErrInvalidArgument, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t TokenType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("bounty: invalid token type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TokenType) UnmarshalText(text []byte) error {
	parsed, err := ParseTokenType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// BountyStatus is the lifecycle state of a bounty.
type BountyStatus uint8

const (
	BountyOpen BountyStatus = iota + 1
	BountyClaimed
	BountyClosed
)

// Valid reports whether the status is a known variant.
func (s BountyStatus) Valid() bool {
	switch s {
	case BountyOpen, BountyClaimed, BountyClosed:
		return true
	default:
		return false
	}
}

func (s BountyStatus) String() string {
	switch s {
	case BountyOpen:
		return "open"
	case BountyClaimed:
		return "claimed"
	case BountyClosed:
		return "closed"
	default:
		return fmt.Sprintf("BountyStatus(%d)", uint8(s))
	}
}

// ParseBountyStatus parses the lower-case status names used on the wire.
func ParseBountyStatus(s string) (BountyStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return BountyOpen, nil
	case "claimed":
		return BountyClaimed, nil
	case "closed":
		return BountyClosed, nil
	default:
		return 0, fmt.Errorf("%w: unknown bounty status %q", ErrInvalidArgument, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s BountyStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("bounty: invalid bounty status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *BountyStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseBountyStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AcceptsTips reports whether new tips may be filed in this state.
func (s BountyStatus) AcceptsTips() bool {
	switch s {
	case BountyOpen:
		return true
	case BountyClaimed, BountyClosed:
		return false
	default:
		return false
	}
}

// AcceptsClaims reports whether new claims may be filed in this state.
func (s BountyStatus) AcceptsClaims() bool {
	switch s {
	case BountyOpen, BountyClaimed:
		return true
	case BountyClosed:
		return false
	default:
		return false
	}
}

// ClaimStatus is the adjudication state of a claim.
type ClaimStatus uint8

const (
	ClaimPending ClaimStatus = iota + 1
	ClaimVerified
	ClaimRejected
)

// Valid reports whether the status is a known variant.
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimPending, ClaimVerified, ClaimRejected:
		return true
	default:
		return false
	}
}

func (s ClaimStatus) String() string {
	switch s {
	case ClaimPending:
		return "pending"
	case ClaimVerified:
		return "verified"
	case ClaimRejected:
		return "rejected"
	default:
		return fmt.Sprintf("ClaimStatus(%d)", uint8(s))
	}
}

// ParseClaimStatus parses the lower-case status names used on the wire.
func ParseClaimStatus(s string) (ClaimStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return ClaimPending, nil
	case "verified":
		return ClaimVerified, nil
	case "rejected":
		return ClaimRejected, nil
	default:
		return 0, fmt.Errorf("%w: unknown claim status %q", ErrInvalidArgument, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ClaimStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("bounty: invalid claim status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ClaimStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseClaimStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Bounty is a funded request for evidence. The escrowed balance for the
// bounty equals Amount while the bounty is open or claimed and is zero once
// it is closed.
type Bounty struct {
	ID            ID           `json:"id"`
	Creator       Identity     `json:"creator"`
	Nonce         uint64       `json:"nonce"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Amount        uint64       `json:"amount"`
	Token         TokenType    `json:"tokenType"`
	Status        BountyStatus `json:"status"`
	VerifiedClaim ID           `json:"verifiedClaim"`
	CreatedAt     int64        `json:"createdAt"`
	ClosedAt      int64        `json:"closedAt,omitempty"`
}

// Clone returns a copy that callers may mutate freely.
func (b *Bounty) Clone() *Bounty {
	if b == nil {
		return nil
	}
	clone := *b
	return &clone
}

// Tip is an immutable piece of evidence filed against a bounty.
type Tip struct {
	ID                ID       `json:"id"`
	BountyID          ID       `json:"bountyId"`
	Submitter         Identity `json:"submitter"`
	EvidenceReference string   `json:"evidenceReference"`
	EncryptedPayload  string   `json:"encryptedPayload"`
	CreatedAt         int64    `json:"createdAt"`
}

// Clone returns a copy that callers may mutate freely.
func (t *Tip) Clone() *Tip {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// Claim asserts that the claimant is eligible for the bounty reward.
type Claim struct {
	ID        ID          `json:"id"`
	BountyID  ID          `json:"bountyId"`
	Claimant  Identity    `json:"claimant"`
	Proof     string      `json:"proof"`
	Status    ClaimStatus `json:"status"`
	DecidedBy Identity    `json:"decidedBy,omitempty"`
	CreatedAt int64       `json:"createdAt"`
	DecidedAt int64       `json:"decidedAt,omitempty"`
}

// Clone returns a copy that callers may mutate freely.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// SettlementKind distinguishes the audit intent of an escrow payout.
type SettlementKind uint8

const (
	SettlementRelease SettlementKind = iota + 1
	SettlementRefund
)

// Valid reports whether the kind is a known variant.
func (k SettlementKind) Valid() bool {
	switch k {
	case SettlementRelease, SettlementRefund:
		return true
	default:
		return false
	}
}

func (k SettlementKind) String() string {
	switch k {
	case SettlementRelease:
		return "release"
	case SettlementRefund:
		return "refund"
	default:
		return fmt.Sprintf("SettlementKind(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k SettlementKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("bounty: invalid settlement kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *SettlementKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "release":
		*k = SettlementRelease
	case "refund":
		*k = SettlementRefund
	default:
		return fmt.Errorf("%w: unknown settlement kind %q", ErrInvalidArgument, string(text))
	}
	return nil
}

// Settlement describes the terminal fund movement performed when a bounty is
// closed.
type Settlement struct {
	BountyID  ID             `json:"bountyId"`
	Kind      SettlementKind `json:"kind"`
	Recipient Identity       `json:"recipient"`
	Amount    uint64         `json:"amount"`
	Token     TokenType      `json:"tokenType"`
}

// BountyFilter narrows bounty listings. Zero values match everything.
type BountyFilter struct {
	Status  BountyStatus
	Creator Identity
	Limit   int
}

// Matches reports whether the bounty satisfies the filter.
func (f BountyFilter) Matches(b *Bounty) bool {
	if b == nil {
		return false
	}
	if f.Status != 0 && b.Status != f.Status {
		return false
	}
	if !f.Creator.IsZero() && b.Creator != f.Creator.Normalize() {
		return false
	}
	return true
}

// CreateBountyParams carries the caller supplied fields of a new bounty.
type CreateBountyParams struct {
	Title       string
	Description string
	Amount      uint64
	Token       TokenType
}

// Normalize returns p with its text fields in Unicode NFC so that visually
// identical titles are stored and measured identically.
func (p CreateBountyParams) Normalize() CreateBountyParams {
	p.Title = norm.NFC.String(p.Title)
	p.Description = norm.NFC.String(p.Description)
	return p
}

func validateBounded(field, value string, limit int) error {
	if len(value) > limit {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidArgument, field, limit)
	}
	return nil
}

// Validate checks the creation parameters without touching state.
func (p CreateBountyParams) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidArgument)
	}
	if err := validateBounded("title", p.Title, MaxTitleBytes); err != nil {
		return err
	}
	if err := validateBounded("description", p.Description, MaxDescriptionBytes); err != nil {
		return err
	}
	if p.Amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if !p.Token.Valid() {
		return fmt.Errorf("%w: unsupported token type %d", ErrInvalidArgument, uint8(p.Token))
	}
	return nil
}
