package bounty

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"whistlechain/core/events"
	"whistlechain/core/types"
)

type bountyEvent struct {
	evt *types.Event
}

func (e bountyEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e bountyEvent) Event() *types.Event { return e.evt }

// Engine applies bounty lifecycle transitions against a Store. Every
// transition validates authorization and status before it mutates anything
// and performs its writes inside a single Store.Update call, so a failed
// transition leaves no partial state behind.
type Engine struct {
	store   Store
	guard   Guard
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an engine with a no-op emitter and no admin override.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:   store,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetStore swaps the backing store.
func (e *Engine) SetStore(store Store) { e.store = store }

// SetAdmin configures the identity allowed to verify claims on any bounty.
func (e *Engine) SetAdmin(admin Identity) { e.guard = NewGuard(admin) }

// Guard returns the authorization guard in use.
func (e *Engine) Guard() Guard { return e.guard }

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evts ...*types.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	for _, evt := range evts {
		if evt != nil {
			e.emitter.Emit(bountyEvent{evt: evt})
		}
	}
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	return nil
}

func requireCaller(caller Identity) (Identity, error) {
	caller = caller.Normalize()
	if caller.IsZero() {
		return "", fmt.Errorf("%w: caller identity required", ErrUnauthorized)
	}
	return caller, nil
}

func loadBounty(r Reader, id ID) (*Bounty, error) {
	b, err := r.BountyGet(id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: bounty %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if !b.Status.Valid() {
		return nil, fmt.Errorf("bounty engine: bounty %s has invalid status %d", id, uint8(b.Status))
	}
	return b, nil
}

// CreateBounty locks params.Amount from the creator's balance and records a
// new open bounty. Funding and record creation commit together.
func (e *Engine) CreateBounty(ctx context.Context, creator Identity, params CreateBountyParams) (*Bounty, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	creator, err := requireCaller(creator)
	if err != nil {
		return nil, err
	}
	params = params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	var created *Bounty
	err = e.store.Update(ctx, func(tx Tx) error {
		nonce, err := tx.NextNonce(creator)
		if err != nil {
			return err
		}
		b := &Bounty{
			ID:          DeriveBountyID(creator, nonce),
			Creator:     creator,
			Nonce:       nonce,
			Title:       params.Title,
			Description: params.Description,
			Amount:      params.Amount,
			Token:       params.Token,
			Status:      BountyOpen,
			CreatedAt:   e.now(),
		}
		if err := NewLedger(tx).Lock(b.ID, b.Amount, b.Token, creator); err != nil {
			return err
		}
		if err := tx.BountyInsert(b); err != nil {
			if errors.Is(err, ErrRecordExists) {
				return fmt.Errorf("%w: bounty %s already exists", ErrDuplicateSubmission, b.ID)
			}
			return err
		}
		created = b
		return nil
	})
	if errors.Is(err, ErrStatusConflict) && !errors.Is(err, ErrInvalidStatus) {
		return nil, fmt.Errorf("%w: account of %s changed concurrently", ErrInvalidStatus, creator)
	}
	if err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(created))
	return created.Clone(), nil
}

// CloseBounty is the single terminal transition. An open bounty is refunded
// to its creator; a claimed bounty pays its verified claimant. The ledger
// movement and the status flip to closed commit together.
func (e *Engine) CloseBounty(ctx context.Context, caller Identity, bountyID ID) (*Settlement, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	caller, err := requireCaller(caller)
	if err != nil {
		return nil, err
	}
	var (
		settlement *Settlement
		closed     *Bounty
	)
	err = e.store.Update(ctx, func(tx Tx) error {
		b, err := loadBounty(tx, bountyID)
		if err != nil {
			return err
		}
		if !e.guard.CanClose(caller, b) {
			return fmt.Errorf("%w: only the creator may close bounty %s", ErrUnauthorized, b.ID)
		}
		ledger := NewLedger(tx)
		var (
			recipient Identity
			amount    uint64
			kind      SettlementKind
		)
		switch b.Status {
		case BountyOpen:
			kind = SettlementRefund
			recipient = b.Creator
			amount, err = ledger.Refund(b.ID, recipient)
		case BountyClaimed:
			kind = SettlementRelease
			recipient, err = verifiedClaimant(tx, b)
			if err != nil {
				return err
			}
			amount, err = ledger.Release(b.ID, recipient)
		case BountyClosed:
			return fmt.Errorf("%w: bounty %s already closed", ErrInvalidStatus, b.ID)
		default:
			return fmt.Errorf("%w: bounty %s in status %d", ErrInvalidStatus, b.ID, uint8(b.Status))
		}
		if err != nil {
			return err
		}
		if amount != b.Amount {
			return fmt.Errorf("bounty engine: escrow for %s held %d, expected %d", b.ID, amount, b.Amount)
		}
		next := b.Clone()
		next.Status = BountyClosed
		next.ClosedAt = e.now()
		if err := tx.BountyCompareAndSwap(b.Status, next); err != nil {
			if errors.Is(err, ErrStatusConflict) {
				return fmt.Errorf("%w: bounty %s changed concurrently", ErrInvalidStatus, b.ID)
			}
			return err
		}
		closed = next
		settlement = &Settlement{
			BountyID:  b.ID,
			Kind:      kind,
			Recipient: recipient,
			Amount:    amount,
			Token:     b.Token,
		}
		return nil
	})
	if err != nil {
		return nil, conflictAsStatus(err, "bounty", bountyID)
	}
	e.emit(NewClosedEvent(closed, settlement))
	return settlement, nil
}

func verifiedClaimant(r Reader, b *Bounty) (Identity, error) {
	if b.VerifiedClaim.IsZero() {
		return "", fmt.Errorf("bounty engine: claimed bounty %s has no verified claim", b.ID)
	}
	c, err := r.ClaimGet(b.VerifiedClaim)
	if err != nil {
		return "", fmt.Errorf("bounty engine: load verified claim for %s: %w", b.ID, err)
	}
	if c.Status != ClaimVerified || c.BountyID != b.ID {
		return "", fmt.Errorf("%w: claim %s is not the verified claim of %s", ErrInvalidStatus, c.ID, b.ID)
	}
	return c.Claimant, nil
}

// Deposit credits owner with value arriving from an external rail. Only the
// admin may deposit.
func (e *Engine) Deposit(ctx context.Context, caller, owner Identity, token TokenType, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	caller, err := requireCaller(caller)
	if err != nil {
		return err
	}
	if !e.guard.CanDeposit(caller) {
		return fmt.Errorf("%w: deposits require the admin", ErrUnauthorized)
	}
	owner = owner.Normalize()
	err = e.store.Update(ctx, func(tx Tx) error {
		return NewLedger(tx).Deposit(owner, token, amount)
	})
	if err != nil {
		return err
	}
	e.emit(NewDepositEvent(owner, token, amount))
	return nil
}

// Bounty returns a single bounty.
func (e *Engine) Bounty(ctx context.Context, id ID) (*Bounty, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var out *Bounty
	err := e.store.View(ctx, func(r Reader) error {
		b, err := loadBounty(r, id)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// Bounties lists bounties newest first.
func (e *Engine) Bounties(ctx context.Context, filter BountyFilter) ([]*Bounty, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var out []*Bounty
	err := e.store.View(ctx, func(r Reader) error {
		list, err := r.Bounties(filter)
		if err != nil {
			return err
		}
		out = sortAndLimit(list, filter)
		return nil
	})
	return out, err
}

// BountySummary decorates a bounty with submission counts.
type BountySummary struct {
	*Bounty
	TipCount   int `json:"tipCount"`
	ClaimCount int `json:"claimCount"`
}

// BountySummaries lists bounties newest first along with tip and claim
// counts.
func (e *Engine) BountySummaries(ctx context.Context, filter BountyFilter) ([]BountySummary, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var out []BountySummary
	err := e.store.View(ctx, func(r Reader) error {
		list, err := r.Bounties(filter)
		if err != nil {
			return err
		}
		list = sortAndLimit(list, filter)
		out = make([]BountySummary, 0, len(list))
		for _, b := range list {
			tips, err := r.Tips(b.ID)
			if err != nil {
				return err
			}
			claims, err := r.Claims(b.ID)
			if err != nil {
				return err
			}
			out = append(out, BountySummary{Bounty: b, TipCount: len(tips), ClaimCount: len(claims)})
		}
		return nil
	})
	return out, err
}

func sortAndLimit(list []*Bounty, filter BountyFilter) []*Bounty {
	out := make([]*Bounty, 0, len(list))
	for _, b := range list {
		if filter.Matches(b) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// EscrowBalance returns the value currently escrowed for bountyID.
func (e *Engine) EscrowBalance(ctx context.Context, bountyID ID) (uint64, error) {
	entry, err := e.EscrowEntry(ctx, bountyID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return entry.Amount, nil
}

// EscrowEntry returns the custody record of bountyID.
func (e *Engine) EscrowEntry(ctx context.Context, bountyID ID) (*EscrowEntry, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var out *EscrowEntry
	err := e.store.View(ctx, func(r Reader) error {
		entry, err := r.EscrowGet(bountyID)
		if err != nil {
			return err
		}
		out = entry
		return nil
	})
	return out, err
}

// Balance returns the spendable balance of owner.
func (e *Engine) Balance(ctx context.Context, owner Identity, token TokenType) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if !token.Valid() {
		return 0, fmt.Errorf("%w: unsupported token type %d", ErrInvalidArgument, uint8(token))
	}
	var out uint64
	err := e.store.View(ctx, func(r Reader) error {
		bal, err := r.BalanceGet(owner.Normalize(), token)
		if err != nil {
			return err
		}
		if bal == nil {
			return nil
		}
		if !bal.IsUint64() {
			return fmt.Errorf("bounty engine: balance of %s exceeds 64 bits", owner)
		}
		out = bal.Uint64()
		return nil
	})
	return out, err
}
