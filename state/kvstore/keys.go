package kvstore

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"whistlechain/native/bounty"
)

var (
	bountyRecordPrefix = []byte("bounty/rec/")
	tipRecordPrefix    = []byte("bounty/tip/")
	claimRecordPrefix  = []byte("bounty/claim/")
	tipIndexPrefix     = []byte("bounty/idx/tip/")
	claimIndexPrefix   = []byte("bounty/idx/claim/")
	nonceKeyPrefix     = []byte("bounty/nonce/")
	balanceKeyPrefix   = []byte("ledger/bal/")
	escrowKeyPrefix    = []byte("ledger/escrow/")
)

func join(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

func bountyKey(id bounty.ID) []byte { return join(bountyRecordPrefix, id[:]) }

func tipKey(id bounty.ID) []byte { return join(tipRecordPrefix, id[:]) }

func claimKey(id bounty.ID) []byte { return join(claimRecordPrefix, id[:]) }

// Index keys group child ids under their bounty so listings are a prefix
// scan.
func tipIndexKey(bountyID, tipID bounty.ID) []byte {
	return join(tipIndexPrefix, bountyID[:], tipID[:])
}

func claimIndexKey(bountyID, claimID bounty.ID) []byte {
	return join(claimIndexPrefix, bountyID[:], claimID[:])
}

func identityHash(id bounty.Identity) []byte {
	return ethcrypto.Keccak256([]byte(id.Normalize()))
}

func nonceKey(creator bounty.Identity) []byte {
	return join(nonceKeyPrefix, identityHash(creator))
}

func balanceKey(owner bounty.Identity, token bounty.TokenType) []byte {
	return join(balanceKeyPrefix, []byte{byte(token)}, identityHash(owner))
}

func escrowKey(id bounty.ID) []byte { return join(escrowKeyPrefix, id[:]) }

func childID(indexKey []byte, prefixLen int) (bounty.ID, bool) {
	var id bounty.ID
	if len(indexKey) != prefixLen+64 {
		return id, false
	}
	copy(id[:], indexKey[prefixLen+32:])
	return id, true
}
