// Package bountytest holds the behavioural contract every bounty.Store
// backend must satisfy.
package bountytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"whistlechain/native/bounty"
)

// Opener returns a fresh, empty store. Cleanup is the opener's concern.
type Opener func(t *testing.T) bounty.Store

// RunStoreSuite exercises the store contract against the supplied backend.
func RunStoreSuite(t *testing.T, open Opener) {
	t.Run("MissingRecords", func(t *testing.T) { testMissingRecords(t, open(t)) })
	t.Run("InsertIsCreateIfAbsent", func(t *testing.T) { testInsertIsCreateIfAbsent(t, open(t)) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, open(t)) })
	t.Run("UpdateRollsBack", func(t *testing.T) { testUpdateRollsBack(t, open(t)) })
	t.Run("NextNonce", func(t *testing.T) { testNextNonce(t, open(t)) })
	t.Run("ChildListings", func(t *testing.T) { testChildListings(t, open(t)) })
	t.Run("BountyFilter", func(t *testing.T) { testBountyFilter(t, open(t)) })
	t.Run("LedgerRecords", func(t *testing.T) { testLedgerRecords(t, open(t)) })
	t.Run("SerialisableUpdates", func(t *testing.T) { testSerialisableUpdates(t, open(t)) })
	t.Run("CancelledContext", func(t *testing.T) { testCancelledContext(t, open(t)) })
}

// NewBounty builds a bounty fixture for creator with the supplied nonce.
func NewBounty(creator bounty.Identity, nonce uint64, status bounty.BountyStatus) *bounty.Bounty {
	return &bounty.Bounty{
		ID:          bounty.DeriveBountyID(creator, nonce),
		Creator:     creator,
		Nonce:       nonce,
		Title:       fmt.Sprintf("bounty %d", nonce),
		Description: "evidence wanted",
		Amount:      100,
		Token:       bounty.TokenNative,
		Status:      status,
		CreatedAt:   1_700_000_000 + int64(nonce),
	}
}

func update(t *testing.T, store bounty.Store, fn func(bounty.Tx) error) {
	t.Helper()
	require.NoError(t, store.Update(context.Background(), fn))
}

func testMissingRecords(t *testing.T, store bounty.Store) {
	var id bounty.ID
	id[0] = 1
	err := store.View(context.Background(), func(r bounty.Reader) error {
		_, err := r.BountyGet(id)
		require.ErrorIs(t, err, bounty.ErrNotFound)
		_, err = r.TipGet(id)
		require.ErrorIs(t, err, bounty.ErrNotFound)
		_, err = r.ClaimGet(id)
		require.ErrorIs(t, err, bounty.ErrNotFound)
		_, err = r.EscrowGet(id)
		require.ErrorIs(t, err, bounty.ErrNotFound)
		bal, err := r.BalanceGet("nobody", bounty.TokenNative)
		require.NoError(t, err)
		require.True(t, bal.IsZero())
		tips, err := r.Tips(id)
		require.NoError(t, err)
		require.Empty(t, tips)
		return nil
	})
	require.NoError(t, err)
}

func testInsertIsCreateIfAbsent(t *testing.T, store bounty.Store) {
	b := NewBounty("alice", 0, bounty.BountyOpen)
	tip := &bounty.Tip{
		ID:                bounty.DeriveTipID(b.ID, "bob"),
		BountyID:          b.ID,
		Submitter:         "bob",
		EvidenceReference: "b3:abc",
		EncryptedPayload:  "sealed",
		CreatedAt:         10,
	}
	claim := &bounty.Claim{
		ID:        bounty.DeriveClaimID(b.ID, "carol"),
		BountyID:  b.ID,
		Claimant:  "carol",
		Proof:     "proof",
		Status:    bounty.ClaimPending,
		CreatedAt: 11,
	}
	update(t, store, func(tx bounty.Tx) error {
		require.NoError(t, tx.BountyInsert(b))
		require.NoError(t, tx.TipInsert(tip))
		return tx.ClaimInsert(claim)
	})

	err := store.Update(context.Background(), func(tx bounty.Tx) error {
		return tx.BountyInsert(b)
	})
	require.ErrorIs(t, err, bounty.ErrRecordExists)
	err = store.Update(context.Background(), func(tx bounty.Tx) error {
		return tx.TipInsert(tip)
	})
	require.ErrorIs(t, err, bounty.ErrRecordExists)
	err = store.Update(context.Background(), func(tx bounty.Tx) error {
		return tx.ClaimInsert(claim)
	})
	require.ErrorIs(t, err, bounty.ErrRecordExists)

	err = store.View(context.Background(), func(r bounty.Reader) error {
		gotBounty, err := r.BountyGet(b.ID)
		require.NoError(t, err)
		require.Equal(t, b, gotBounty)
		gotTip, err := r.TipGet(tip.ID)
		require.NoError(t, err)
		require.Equal(t, tip, gotTip)
		gotClaim, err := r.ClaimGet(claim.ID)
		require.NoError(t, err)
		require.Equal(t, claim, gotClaim)
		return nil
	})
	require.NoError(t, err)
}

func testCompareAndSwap(t *testing.T, store bounty.Store) {
	b := NewBounty("alice", 0, bounty.BountyOpen)
	claim := &bounty.Claim{
		ID:       bounty.DeriveClaimID(b.ID, "carol"),
		BountyID: b.ID,
		Claimant: "carol",
		Status:   bounty.ClaimPending,
	}
	update(t, store, func(tx bounty.Tx) error {
		require.NoError(t, tx.BountyInsert(b))
		return tx.ClaimInsert(claim)
	})

	claimed := b.Clone()
	claimed.Status = bounty.BountyClaimed
	claimed.VerifiedClaim = claim.ID
	update(t, store, func(tx bounty.Tx) error {
		return tx.BountyCompareAndSwap(bounty.BountyOpen, claimed)
	})

	again := b.Clone()
	again.Status = bounty.BountyClaimed
	err := store.Update(context.Background(), func(tx bounty.Tx) error {
		return tx.BountyCompareAndSwap(bounty.BountyOpen, again)
	})
	require.ErrorIs(t, err, bounty.ErrStatusConflict)

	verified := claim.Clone()
	verified.Status = bounty.ClaimVerified
	verified.DecidedBy = "alice"
	verified.DecidedAt = 20
	update(t, store, func(tx bounty.Tx) error {
		return tx.ClaimCompareAndSwap(bounty.ClaimPending, verified)
	})
	err = store.Update(context.Background(), func(tx bounty.Tx) error {
		rejected := claim.Clone()
		rejected.Status = bounty.ClaimRejected
		return tx.ClaimCompareAndSwap(bounty.ClaimPending, rejected)
	})
	require.ErrorIs(t, err, bounty.ErrStatusConflict)

	err = store.View(context.Background(), func(r bounty.Reader) error {
		got, err := r.BountyGet(b.ID)
		require.NoError(t, err)
		require.Equal(t, bounty.BountyClaimed, got.Status)
		require.Equal(t, claim.ID, got.VerifiedClaim)
		gotClaim, err := r.ClaimGet(claim.ID)
		require.NoError(t, err)
		require.Equal(t, verified, gotClaim)
		return nil
	})
	require.NoError(t, err)
}

func testUpdateRollsBack(t *testing.T, store bounty.Store) {
	boom := errors.New("boom")
	b := NewBounty("alice", 0, bounty.BountyOpen)
	err := store.Update(context.Background(), func(tx bounty.Tx) error {
		require.NoError(t, tx.BountyInsert(b))
		require.NoError(t, tx.BalancePut("alice", bounty.TokenNative, uint256.NewInt(7)))
		require.NoError(t, tx.EscrowPut(&bounty.EscrowEntry{BountyID: b.ID, Token: bounty.TokenNative, Amount: 100, Locked: 100}))
		_, err := tx.NextNonce("alice")
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.View(context.Background(), func(r bounty.Reader) error {
		_, err := r.BountyGet(b.ID)
		require.ErrorIs(t, err, bounty.ErrNotFound)
		_, err = r.EscrowGet(b.ID)
		require.ErrorIs(t, err, bounty.ErrNotFound)
		bal, err := r.BalanceGet("alice", bounty.TokenNative)
		require.NoError(t, err)
		require.True(t, bal.IsZero())
		return nil
	})
	require.NoError(t, err)

	update(t, store, func(tx bounty.Tx) error {
		nonce, err := tx.NextNonce("alice")
		require.NoError(t, err)
		require.Equal(t, uint64(0), nonce)
		return nil
	})
}

func testNextNonce(t *testing.T, store bounty.Store) {
	for want := uint64(0); want < 3; want++ {
		update(t, store, func(tx bounty.Tx) error {
			got, err := tx.NextNonce("alice")
			require.NoError(t, err)
			require.Equal(t, want, got)
			return nil
		})
	}
	update(t, store, func(tx bounty.Tx) error {
		got, err := tx.NextNonce("bob")
		require.NoError(t, err)
		require.Equal(t, uint64(0), got)
		got, err = tx.NextNonce("bob")
		require.NoError(t, err)
		require.Equal(t, uint64(1), got)
		return nil
	})
}

func testChildListings(t *testing.T, store bounty.Store) {
	first := NewBounty("alice", 0, bounty.BountyOpen)
	second := NewBounty("alice", 1, bounty.BountyOpen)
	update(t, store, func(tx bounty.Tx) error {
		require.NoError(t, tx.BountyInsert(first))
		require.NoError(t, tx.BountyInsert(second))
		for _, who := range []bounty.Identity{"bob", "carol"} {
			require.NoError(t, tx.TipInsert(&bounty.Tip{
				ID:                bounty.DeriveTipID(first.ID, who),
				BountyID:          first.ID,
				Submitter:         who,
				EvidenceReference: "ref",
			}))
		}
		require.NoError(t, tx.TipInsert(&bounty.Tip{
			ID:                bounty.DeriveTipID(second.ID, "dave"),
			BountyID:          second.ID,
			Submitter:         "dave",
			EvidenceReference: "ref",
		}))
		return tx.ClaimInsert(&bounty.Claim{
			ID:       bounty.DeriveClaimID(second.ID, "erin"),
			BountyID: second.ID,
			Claimant: "erin",
			Status:   bounty.ClaimPending,
		})
	})
	err := store.View(context.Background(), func(r bounty.Reader) error {
		tips, err := r.Tips(first.ID)
		require.NoError(t, err)
		require.Len(t, tips, 2)
		for _, tip := range tips {
			require.Equal(t, first.ID, tip.BountyID)
		}
		tips, err = r.Tips(second.ID)
		require.NoError(t, err)
		require.Len(t, tips, 1)
		claims, err := r.Claims(first.ID)
		require.NoError(t, err)
		require.Empty(t, claims)
		claims, err = r.Claims(second.ID)
		require.NoError(t, err)
		require.Len(t, claims, 1)
		require.Equal(t, bounty.Identity("erin"), claims[0].Claimant)
		return nil
	})
	require.NoError(t, err)
}

func testBountyFilter(t *testing.T, store bounty.Store) {
	update(t, store, func(tx bounty.Tx) error {
		require.NoError(t, tx.BountyInsert(NewBounty("alice", 0, bounty.BountyOpen)))
		require.NoError(t, tx.BountyInsert(NewBounty("alice", 1, bounty.BountyClosed)))
		return tx.BountyInsert(NewBounty("bob", 0, bounty.BountyOpen))
	})
	err := store.View(context.Background(), func(r bounty.Reader) error {
		all, err := r.Bounties(bounty.BountyFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		open, err := r.Bounties(bounty.BountyFilter{Status: bounty.BountyOpen})
		require.NoError(t, err)
		require.Len(t, open, 2)
		mine, err := r.Bounties(bounty.BountyFilter{Creator: "alice"})
		require.NoError(t, err)
		require.Len(t, mine, 2)
		both, err := r.Bounties(bounty.BountyFilter{Creator: "alice", Status: bounty.BountyClosed})
		require.NoError(t, err)
		require.Len(t, both, 1)
		return nil
	})
	require.NoError(t, err)
}

func testLedgerRecords(t *testing.T, store bounty.Store) {
	b := NewBounty("alice", 0, bounty.BountyOpen)
	large := new(uint256.Int).Lsh(uint256.NewInt(1), 100)
	entry := &bounty.EscrowEntry{BountyID: b.ID, Token: bounty.TokenStable, Amount: 0, Locked: 50, Settled: bounty.SettlementRefund, Recipient: "alice"}
	update(t, store, func(tx bounty.Tx) error {
		require.NoError(t, tx.BalancePut("alice", bounty.TokenNative, uint256.NewInt(42)))
		require.NoError(t, tx.BalancePut("alice", bounty.TokenStable, large))
		return tx.EscrowPut(entry)
	})
	err := store.View(context.Background(), func(r bounty.Reader) error {
		native, err := r.BalanceGet("alice", bounty.TokenNative)
		require.NoError(t, err)
		require.Equal(t, uint64(42), native.Uint64())
		stable, err := r.BalanceGet("alice", bounty.TokenStable)
		require.NoError(t, err)
		require.True(t, stable.Eq(large))
		got, err := r.EscrowGet(b.ID)
		require.NoError(t, err)
		require.Equal(t, entry, got)
		return nil
	})
	require.NoError(t, err)
}

func testSerialisableUpdates(t *testing.T, store bounty.Store) {
	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Update(context.Background(), func(tx bounty.Tx) error {
				bal, err := tx.BalanceGet("pool", bounty.TokenNative)
				if err != nil {
					return err
				}
				next := new(uint256.Int).AddUint64(bal, 1)
				return tx.BalancePut("pool", bounty.TokenNative, next)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	err := store.View(context.Background(), func(r bounty.Reader) error {
		bal, err := r.BalanceGet("pool", bounty.TokenNative)
		require.NoError(t, err)
		require.Equal(t, uint64(workers), bal.Uint64())
		return nil
	})
	require.NoError(t, err)
}

func testCancelledContext(t *testing.T, store bounty.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := store.Update(ctx, func(tx bounty.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}
