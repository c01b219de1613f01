package bounty

import (
	"context"

	"github.com/holiman/uint256"
)

// Reader exposes the read side of the record store. Getters return
// ErrNotFound when the keyed record does not exist.
type Reader interface {
	BountyGet(id ID) (*Bounty, error)
	TipGet(id ID) (*Tip, error)
	ClaimGet(id ID) (*Claim, error)
	Bounties(filter BountyFilter) ([]*Bounty, error)
	Tips(bountyID ID) ([]*Tip, error)
	Claims(bountyID ID) ([]*Claim, error)
	BalanceGet(owner Identity, token TokenType) (*uint256.Int, error)
	EscrowGet(bountyID ID) (*EscrowEntry, error)
}

// Tx is a read-write view bound to a single atomic unit of work. Inserts are
// create-if-absent and fail with ErrRecordExists; compare-and-swap updates
// fail with ErrStatusConflict when the stored status differs from expected.
type Tx interface {
	Reader
	BountyInsert(b *Bounty) error
	BountyCompareAndSwap(expected BountyStatus, b *Bounty) error
	TipInsert(t *Tip) error
	ClaimInsert(c *Claim) error
	ClaimCompareAndSwap(expected ClaimStatus, c *Claim) error
	NextNonce(creator Identity) (uint64, error)
	BalancePut(owner Identity, token TokenType, amount *uint256.Int) error
	EscrowPut(e *EscrowEntry) error
}

// Store persists bounty records and escrow balances. Update runs fn
// atomically: either every write performed through the Tx becomes visible or
// none does. Updates are serialisable with respect to each other.
type Store interface {
	View(ctx context.Context, fn func(Reader) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}
