package bounty

// Guard answers authorization questions about lifecycle transitions. It never
// reads or writes state; existence checks are supplied by the caller after
// consulting the record store.
type Guard struct {
	admin Identity
}

// NewGuard returns a guard that treats admin as a verifier for every bounty.
// An empty admin disables the override.
func NewGuard(admin Identity) Guard {
	return Guard{admin: admin.Normalize()}
}

// Admin returns the configured admin identity.
func (g Guard) Admin() Identity { return g.admin }

// IsAdmin reports whether caller is the configured admin.
func (g Guard) IsAdmin(caller Identity) bool {
	caller = caller.Normalize()
	return !g.admin.IsZero() && caller == g.admin
}

func (g Guard) isCreator(caller Identity, b *Bounty) bool {
	caller = caller.Normalize()
	return b != nil && !caller.IsZero() && caller == b.Creator
}

// CanVerify reports whether caller may adjudicate claims on b.
func (g Guard) CanVerify(caller Identity, b *Bounty) bool {
	return g.isCreator(caller, b) || (b != nil && g.IsAdmin(caller))
}

// CanClose reports whether caller may close b. Only the creator may.
func (g Guard) CanClose(caller Identity, b *Bounty) bool {
	return g.isCreator(caller, b)
}

// CanCreateTip reports whether caller may file a tip against b given whether
// one already exists for the pair.
func (g Guard) CanCreateTip(caller Identity, b *Bounty, exists bool) bool {
	if b == nil || caller.IsZero() || exists {
		return false
	}
	return b.Status.AcceptsTips()
}

// CanCreateClaim reports whether caller may file a claim against b given
// whether one already exists for the pair.
func (g Guard) CanCreateClaim(caller Identity, b *Bounty, exists bool) bool {
	if b == nil || caller.IsZero() || exists {
		return false
	}
	return b.Status.AcceptsClaims()
}

// CanReadTips reports whether caller may list the tips filed against b.
// Tips carry informant evidence so only the creator and admin see them.
func (g Guard) CanReadTips(caller Identity, b *Bounty) bool {
	return g.CanVerify(caller, b)
}

// CanDeposit reports whether caller may credit balances from an external
// rail.
func (g Guard) CanDeposit(caller Identity) bool {
	return g.IsAdmin(caller)
}
