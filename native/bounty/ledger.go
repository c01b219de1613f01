package bounty

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// EscrowEntry is the custody record for a single bounty. Amount holds the
// currently escrowed value; Locked keeps the value that entered at creation
// so settled entries remain auditable.
type EscrowEntry struct {
	BountyID  ID             `json:"bountyId"`
	Token     TokenType      `json:"tokenType"`
	Amount    uint64         `json:"amount"`
	Locked    uint64         `json:"locked"`
	Settled   SettlementKind `json:"settled,omitempty"`
	Recipient Identity       `json:"recipient,omitempty"`
}

// Clone returns a copy that callers may mutate freely.
func (e *EscrowEntry) Clone() *EscrowEntry {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// LedgerState is the subset of the store the ledger needs.
type LedgerState interface {
	BalanceGet(owner Identity, token TokenType) (*uint256.Int, error)
	BalancePut(owner Identity, token TokenType, amount *uint256.Int) error
	EscrowGet(bountyID ID) (*EscrowEntry, error)
	EscrowPut(e *EscrowEntry) error
}

// Ledger moves value between account balances and per-bounty escrow entries.
// Every bounty is locked exactly once and settled at most once, by either a
// release or a refund.
type Ledger struct {
	state LedgerState
}

// NewLedger binds a ledger to the supplied state, typically a store Tx.
func NewLedger(state LedgerState) *Ledger {
	return &Ledger{state: state}
}

func (l *Ledger) balance(owner Identity, token TokenType) (*uint256.Int, error) {
	bal, err := l.state.BalanceGet(owner, token)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return new(uint256.Int), nil
	}
	return bal.Clone(), nil
}

// Balance returns the spendable balance of owner in token.
func (l *Ledger) Balance(owner Identity, token TokenType) (*uint256.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilStore
	}
	if !token.Valid() {
		return nil, fmt.Errorf("%w: unsupported token type %d", ErrInvalidArgument, uint8(token))
	}
	return l.balance(owner.Normalize(), token)
}

// Deposit credits value arriving from an external rail.
func (l *Ledger) Deposit(owner Identity, token TokenType, amount uint64) error {
	if l == nil || l.state == nil {
		return errNilStore
	}
	owner = owner.Normalize()
	if owner.IsZero() {
		return fmt.Errorf("%w: deposit owner required", ErrInvalidArgument)
	}
	if !token.Valid() {
		return fmt.Errorf("%w: unsupported token type %d", ErrInvalidArgument, uint8(token))
	}
	if amount == 0 {
		return fmt.Errorf("%w: deposit amount must be positive", ErrInvalidArgument)
	}
	bal, err := l.balance(owner, token)
	if err != nil {
		return err
	}
	next, err := credit(bal, amount)
	if err != nil {
		return err
	}
	return l.state.BalancePut(owner, token, next)
}

// Lock debits source and escrows amount under bountyID.
func (l *Ledger) Lock(bountyID ID, amount uint64, token TokenType, source Identity) error {
	if l == nil || l.state == nil {
		return errNilStore
	}
	if amount == 0 {
		return fmt.Errorf("%w: lock amount must be positive", ErrInvalidArgument)
	}
	if !token.Valid() {
		return fmt.Errorf("%w: unsupported token type %d", ErrInvalidArgument, uint8(token))
	}
	if _, err := l.state.EscrowGet(bountyID); err == nil {
		return fmt.Errorf("%w: escrow %s already locked", ErrInvalidStatus, bountyID)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	source = source.Normalize()
	bal, err := l.balance(source, token)
	if err != nil {
		return err
	}
	debit := uint256.NewInt(amount)
	if bal.Lt(debit) {
		return fmt.Errorf("%w: %s holds %s %s, needs %d", ErrInsufficientFunds, source, bal.Dec(), token, amount)
	}
	if err := l.state.BalancePut(source, token, new(uint256.Int).Sub(bal, debit)); err != nil {
		return err
	}
	return l.state.EscrowPut(&EscrowEntry{
		BountyID: bountyID,
		Token:    token,
		Amount:   amount,
		Locked:   amount,
	})
}

// Release pays the full escrowed amount to destination.
func (l *Ledger) Release(bountyID ID, destination Identity) (uint64, error) {
	return l.settle(bountyID, destination, SettlementRelease)
}

// Refund returns the full escrowed amount to destination, normally the
// bounty creator.
func (l *Ledger) Refund(bountyID ID, destination Identity) (uint64, error) {
	return l.settle(bountyID, destination, SettlementRefund)
}

// EscrowBalance returns the value currently held for bountyID. Unknown ids
// hold nothing.
func (l *Ledger) EscrowBalance(bountyID ID) (uint64, error) {
	if l == nil || l.state == nil {
		return 0, errNilStore
	}
	entry, err := l.state.EscrowGet(bountyID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return entry.Amount, nil
}

func (l *Ledger) settle(bountyID ID, destination Identity, kind SettlementKind) (uint64, error) {
	if l == nil || l.state == nil {
		return 0, errNilStore
	}
	destination = destination.Normalize()
	if destination.IsZero() {
		return 0, fmt.Errorf("%w: %s destination required", ErrInvalidArgument, kind)
	}
	entry, err := l.state.EscrowGet(bountyID)
	if errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("%w: no funds escrowed for %s", ErrInvalidStatus, bountyID)
	}
	if err != nil {
		return 0, err
	}
	if entry.Amount == 0 || entry.Settled != 0 {
		return 0, fmt.Errorf("%w: escrow %s already settled", ErrInvalidStatus, bountyID)
	}
	amount := entry.Amount
	bal, err := l.balance(destination, entry.Token)
	if err != nil {
		return 0, err
	}
	next, err := credit(bal, amount)
	if err != nil {
		return 0, err
	}
	if err := l.state.BalancePut(destination, entry.Token, next); err != nil {
		return 0, err
	}
	settled := entry.Clone()
	settled.Amount = 0
	settled.Settled = kind
	settled.Recipient = destination
	if err := l.state.EscrowPut(settled); err != nil {
		return 0, err
	}
	return amount, nil
}

// credit adds amount to bal. Balances are reported as uint64, so any sum
// past that range is rejected.
func credit(bal *uint256.Int, amount uint64) (*uint256.Int, error) {
	next, overflow := new(uint256.Int).AddOverflow(bal, uint256.NewInt(amount))
	if overflow || !next.IsUint64() {
		return nil, fmt.Errorf("%w: balance overflow", ErrInvalidArgument)
	}
	return next, nil
}
