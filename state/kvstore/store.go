// Package kvstore persists bounty records in a key-value storage.Database.
// Records are RLP encoded; children are indexed under their bounty so that
// listings are prefix scans.
package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"whistlechain/native/bounty"
	"whistlechain/storage"
)

// Store implements bounty.Store on top of storage.Database.
type Store struct {
	db storage.Database
}

var _ bounty.Store = (*Store)(nil)

// New wraps db. The store takes ownership and closes db on Close.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

// View runs fn against a consistent snapshot.
func (s *Store) View(ctx context.Context, fn func(bounty.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(r storage.Reader) error {
		return fn(&tx{r: r})
	})
}

// Update runs fn inside a storage transaction.
func (s *Store) Update(ctx context.Context, fn func(bounty.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(t storage.Txn) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(&tx{r: t, w: t}); err != nil {
			return err
		}
		return ctx.Err()
	})
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type tx struct {
	r storage.Reader
	w storage.Txn
}

var errReadOnly = errors.New("kvstore: write in read-only view")

func (t *tx) get(key []byte, out interface{}) error {
	data, err := t.r.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return bounty.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return fmt.Errorf("kvstore: decode %x: %w", key, err)
	}
	return nil
}

func (t *tx) put(key []byte, value interface{}) error {
	if t.w == nil {
		return errReadOnly
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return t.w.Put(key, encoded)
}

func (t *tx) insert(key []byte, value interface{}) error {
	exists, err := t.r.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return bounty.ErrRecordExists
	}
	return t.put(key, value)
}

func (t *tx) BountyGet(id bounty.ID) (*bounty.Bounty, error) {
	stored := new(storedBounty)
	if err := t.get(bountyKey(id), stored); err != nil {
		return nil, err
	}
	return stored.toBounty(), nil
}

func (t *tx) TipGet(id bounty.ID) (*bounty.Tip, error) {
	stored := new(storedTip)
	if err := t.get(tipKey(id), stored); err != nil {
		return nil, err
	}
	return stored.toTip(), nil
}

func (t *tx) ClaimGet(id bounty.ID) (*bounty.Claim, error) {
	stored := new(storedClaim)
	if err := t.get(claimKey(id), stored); err != nil {
		return nil, err
	}
	return stored.toClaim(), nil
}

func (t *tx) Bounties(filter bounty.BountyFilter) ([]*bounty.Bounty, error) {
	var out []*bounty.Bounty
	err := t.r.Iterate(bountyRecordPrefix, func(key, value []byte) error {
		stored := new(storedBounty)
		if err := rlp.DecodeBytes(value, stored); err != nil {
			return fmt.Errorf("kvstore: decode bounty %x: %w", key, err)
		}
		b := stored.toBounty()
		if filter.Matches(b) {
			out = append(out, b)
		}
		return nil
	})
	return out, err
}

func (t *tx) children(prefix []byte, bountyID bounty.ID, load func(bounty.ID) error) error {
	scan := join(prefix, bountyID[:])
	return t.r.Iterate(scan, func(key, _ []byte) error {
		id, ok := childID(key, len(prefix))
		if !ok {
			return fmt.Errorf("kvstore: malformed index key %x", key)
		}
		return load(id)
	})
}

func (t *tx) Tips(bountyID bounty.ID) ([]*bounty.Tip, error) {
	var out []*bounty.Tip
	err := t.children(tipIndexPrefix, bountyID, func(id bounty.ID) error {
		tip, err := t.TipGet(id)
		if err != nil {
			return err
		}
		out = append(out, tip)
		return nil
	})
	return out, err
}

func (t *tx) Claims(bountyID bounty.ID) ([]*bounty.Claim, error) {
	var out []*bounty.Claim
	err := t.children(claimIndexPrefix, bountyID, func(id bounty.ID) error {
		claim, err := t.ClaimGet(id)
		if err != nil {
			return err
		}
		out = append(out, claim)
		return nil
	})
	return out, err
}

func (t *tx) BalanceGet(owner bounty.Identity, token bounty.TokenType) (*uint256.Int, error) {
	stored := new(storedBalance)
	err := t.get(balanceKey(owner, token), stored)
	if errors.Is(err, bounty.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	if stored.Amount == nil {
		return new(uint256.Int), nil
	}
	return stored.Amount, nil
}

func (t *tx) EscrowGet(bountyID bounty.ID) (*bounty.EscrowEntry, error) {
	stored := new(storedEscrow)
	if err := t.get(escrowKey(bountyID), stored); err != nil {
		return nil, err
	}
	return stored.toEntry(), nil
}

func (t *tx) BountyInsert(b *bounty.Bounty) error {
	stored, err := newStoredBounty(b)
	if err != nil {
		return err
	}
	return t.insert(bountyKey(b.ID), stored)
}

func (t *tx) BountyCompareAndSwap(expected bounty.BountyStatus, b *bounty.Bounty) error {
	current, err := t.BountyGet(b.ID)
	if err != nil {
		return err
	}
	if current.Status != expected {
		return fmt.Errorf("%w: bounty %s is %s, expected %s", bounty.ErrStatusConflict, b.ID, current.Status, expected)
	}
	stored, err := newStoredBounty(b)
	if err != nil {
		return err
	}
	return t.put(bountyKey(b.ID), stored)
}

func (t *tx) TipInsert(tip *bounty.Tip) error {
	stored, err := newStoredTip(tip)
	if err != nil {
		return err
	}
	if err := t.insert(tipKey(tip.ID), stored); err != nil {
		return err
	}
	return t.w.Put(tipIndexKey(tip.BountyID, tip.ID), []byte{})
}

func (t *tx) ClaimInsert(c *bounty.Claim) error {
	stored, err := newStoredClaim(c)
	if err != nil {
		return err
	}
	if err := t.insert(claimKey(c.ID), stored); err != nil {
		return err
	}
	return t.w.Put(claimIndexKey(c.BountyID, c.ID), []byte{})
}

func (t *tx) ClaimCompareAndSwap(expected bounty.ClaimStatus, c *bounty.Claim) error {
	current, err := t.ClaimGet(c.ID)
	if err != nil {
		return err
	}
	if current.Status != expected {
		return fmt.Errorf("%w: claim %s is %s, expected %s", bounty.ErrStatusConflict, c.ID, current.Status, expected)
	}
	stored, err := newStoredClaim(c)
	if err != nil {
		return err
	}
	return t.put(claimKey(c.ID), stored)
}

// NextNonce returns the creator's current nonce and advances it.
func (t *tx) NextNonce(creator bounty.Identity) (uint64, error) {
	key := nonceKey(creator)
	var nonce uint64
	err := t.get(key, &nonce)
	if err != nil && !errors.Is(err, bounty.ErrNotFound) {
		return 0, err
	}
	if err := t.put(key, nonce+1); err != nil {
		return 0, err
	}
	return nonce, nil
}

func (t *tx) BalancePut(owner bounty.Identity, token bounty.TokenType, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	return t.put(balanceKey(owner, token), &storedBalance{Amount: amount})
}

func (t *tx) EscrowPut(e *bounty.EscrowEntry) error {
	if e == nil {
		return fmt.Errorf("kvstore: nil escrow entry")
	}
	return t.put(escrowKey(e.BountyID), newStoredEscrow(e))
}
