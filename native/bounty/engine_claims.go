package bounty

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// TipParams carries the caller supplied fields of a tip.
type TipParams struct {
	EvidenceReference string
	EncryptedPayload  string
}

// Validate checks the tip fields without touching state.
func (p TipParams) Validate() error {
	if strings.TrimSpace(p.EvidenceReference) == "" {
		return fmt.Errorf("%w: evidence reference required", ErrInvalidArgument)
	}
	if err := validateBounded("evidence reference", p.EvidenceReference, MaxEvidenceReferenceBytes); err != nil {
		return err
	}
	return validateBounded("encrypted payload", p.EncryptedPayload, MaxEncryptedPayloadBytes)
}

// SubmitTip records evidence from submitter against an open bounty. Each
// submitter may file one tip per bounty.
func (e *Engine) SubmitTip(ctx context.Context, submitter Identity, bountyID ID, params TipParams) (*Tip, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	submitter, err := requireCaller(submitter)
	if err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	var created *Tip
	err = e.store.Update(ctx, func(tx Tx) error {
		b, err := loadBounty(tx, bountyID)
		if err != nil {
			return err
		}
		id := DeriveTipID(b.ID, submitter)
		exists, err := recordExists(tx.TipGet(id))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s already tipped bounty %s", ErrDuplicateSubmission, submitter, b.ID)
		}
		if !e.guard.CanCreateTip(submitter, b, exists) {
			return fmt.Errorf("%w: bounty %s is %s", ErrInvalidStatus, b.ID, b.Status)
		}
		tip := &Tip{
			ID:                id,
			BountyID:          b.ID,
			Submitter:         submitter,
			EvidenceReference: params.EvidenceReference,
			EncryptedPayload:  params.EncryptedPayload,
			CreatedAt:         e.now(),
		}
		if err := tx.TipInsert(tip); err != nil {
			if errors.Is(err, ErrRecordExists) {
				return fmt.Errorf("%w: %s already tipped bounty %s", ErrDuplicateSubmission, submitter, b.ID)
			}
			return err
		}
		created = tip
		return nil
	})
	if err != nil {
		return nil, conflictAsStatus(err, "bounty", bountyID)
	}
	e.emit(NewTipSubmittedEvent(created))
	return created.Clone(), nil
}

// SubmitClaim records a pending claim from claimant. Claims are accepted
// while the bounty is open or claimed; each claimant may file one claim per
// bounty.
func (e *Engine) SubmitClaim(ctx context.Context, claimant Identity, bountyID ID, proof string) (*Claim, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	claimant, err := requireCaller(claimant)
	if err != nil {
		return nil, err
	}
	if err := validateBounded("proof", proof, MaxProofBytes); err != nil {
		return nil, err
	}
	var created *Claim
	err = e.store.Update(ctx, func(tx Tx) error {
		b, err := loadBounty(tx, bountyID)
		if err != nil {
			return err
		}
		id := DeriveClaimID(b.ID, claimant)
		exists, err := recordExists(tx.ClaimGet(id))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s already claimed bounty %s", ErrDuplicateSubmission, claimant, b.ID)
		}
		if !e.guard.CanCreateClaim(claimant, b, exists) {
			return fmt.Errorf("%w: bounty %s is %s", ErrInvalidStatus, b.ID, b.Status)
		}
		claim := &Claim{
			ID:        id,
			BountyID:  b.ID,
			Claimant:  claimant,
			Proof:     proof,
			Status:    ClaimPending,
			CreatedAt: e.now(),
		}
		if err := tx.ClaimInsert(claim); err != nil {
			if errors.Is(err, ErrRecordExists) {
				return fmt.Errorf("%w: %s already claimed bounty %s", ErrDuplicateSubmission, claimant, b.ID)
			}
			return err
		}
		created = claim
		return nil
	})
	if err != nil {
		return nil, conflictAsStatus(err, "bounty", bountyID)
	}
	e.emit(NewClaimSubmittedEvent(created))
	return created.Clone(), nil
}

// VerifyClaim approves or rejects a pending claim. Approval moves an open
// bounty to claimed and pins the winning claim; only the first approval can
// succeed. Rejection leaves the bounty untouched.
func (e *Engine) VerifyClaim(ctx context.Context, caller Identity, claimID ID, approve bool) (*Claim, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	caller, err := requireCaller(caller)
	if err != nil {
		return nil, err
	}
	var decided *Claim
	err = e.store.Update(ctx, func(tx Tx) error {
		c, err := tx.ClaimGet(claimID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: claim %s", ErrNotFound, claimID)
		}
		if err != nil {
			return err
		}
		b, err := loadBounty(tx, c.BountyID)
		if err != nil {
			return err
		}
		if !e.guard.CanVerify(caller, b) {
			return fmt.Errorf("%w: %s may not verify claims on %s", ErrUnauthorized, caller, b.ID)
		}
		if c.Status != ClaimPending {
			return fmt.Errorf("%w: claim %s is %s", ErrInvalidStatus, c.ID, c.Status)
		}
		if b.Status == BountyClosed {
			return fmt.Errorf("%w: bounty %s is closed", ErrInvalidStatus, b.ID)
		}
		next := c.Clone()
		next.DecidedBy = caller
		next.DecidedAt = e.now()
		if approve {
			if b.Status != BountyOpen {
				return fmt.Errorf("%w: bounty %s already has a verified claim", ErrInvalidStatus, b.ID)
			}
			claimed := b.Clone()
			claimed.Status = BountyClaimed
			claimed.VerifiedClaim = c.ID
			if err := tx.BountyCompareAndSwap(BountyOpen, claimed); err != nil {
				return conflictAsStatus(err, "bounty", b.ID)
			}
			next.Status = ClaimVerified
		} else {
			next.Status = ClaimRejected
		}
		if err := tx.ClaimCompareAndSwap(ClaimPending, next); err != nil {
			return conflictAsStatus(err, "claim", c.ID)
		}
		decided = next
		return nil
	})
	if err != nil {
		return nil, conflictAsStatus(err, "claim", claimID)
	}
	e.emit(NewClaimDecidedEvent(decided))
	return decided.Clone(), nil
}

// Claim returns a claim visible to caller: the claimant, the bounty creator
// or the admin.
func (e *Engine) Claim(ctx context.Context, caller Identity, claimID ID) (*Claim, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	caller = caller.Normalize()
	var out *Claim
	err := e.store.View(ctx, func(r Reader) error {
		c, err := r.ClaimGet(claimID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: claim %s", ErrNotFound, claimID)
		}
		if err != nil {
			return err
		}
		if caller.IsZero() || caller != c.Claimant {
			b, err := loadBounty(r, c.BountyID)
			if err != nil {
				return err
			}
			if !e.guard.CanVerify(caller, b) {
				return fmt.Errorf("%w: claim %s", ErrUnauthorized, claimID)
			}
		}
		out = c
		return nil
	})
	return out, err
}

// Claims lists the claims on bountyID. Verifiers see every claim; other
// callers only see their own.
func (e *Engine) Claims(ctx context.Context, caller Identity, bountyID ID) ([]*Claim, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	caller = caller.Normalize()
	var out []*Claim
	err := e.store.View(ctx, func(r Reader) error {
		b, err := loadBounty(r, bountyID)
		if err != nil {
			return err
		}
		list, err := r.Claims(b.ID)
		if err != nil {
			return err
		}
		verifier := e.guard.CanVerify(caller, b)
		out = make([]*Claim, 0, len(list))
		for _, c := range list {
			if verifier || (!caller.IsZero() && c.Claimant == caller) {
				out = append(out, c)
			}
		}
		return nil
	})
	return out, err
}

// Tip returns a tip visible to caller: the submitter, the bounty creator or
// the admin.
func (e *Engine) Tip(ctx context.Context, caller Identity, tipID ID) (*Tip, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	caller = caller.Normalize()
	var out *Tip
	err := e.store.View(ctx, func(r Reader) error {
		t, err := r.TipGet(tipID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: tip %s", ErrNotFound, tipID)
		}
		if err != nil {
			return err
		}
		if caller.IsZero() || caller != t.Submitter {
			b, err := loadBounty(r, t.BountyID)
			if err != nil {
				return err
			}
			if !e.guard.CanReadTips(caller, b) {
				return fmt.Errorf("%w: tip %s", ErrUnauthorized, tipID)
			}
		}
		out = t
		return nil
	})
	return out, err
}

// Tips lists every tip filed against bountyID. Only the creator and the
// admin may read them.
func (e *Engine) Tips(ctx context.Context, caller Identity, bountyID ID) ([]*Tip, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var out []*Tip
	err := e.store.View(ctx, func(r Reader) error {
		b, err := loadBounty(r, bountyID)
		if err != nil {
			return err
		}
		if !e.guard.CanReadTips(caller, b) {
			return fmt.Errorf("%w: tips on %s", ErrUnauthorized, b.ID)
		}
		out, err = r.Tips(b.ID)
		return err
	})
	return out, err
}

func recordExists[T any](_ T, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func conflictAsStatus(err error, kind string, id ID) error {
	if errors.Is(err, ErrStatusConflict) && !errors.Is(err, ErrInvalidStatus) {
		return fmt.Errorf("%w: %s %s changed concurrently", ErrInvalidStatus, kind, id)
	}
	return err
}
