package bounty

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	bountyDomain = []byte("bounty")
	tipDomain    = []byte("tip")
	claimDomain  = []byte("claim")
)

// DeriveBountyID returns keccak256("bounty" || creator || nonce) where nonce
// is the creator's bounty sequence number encoded big endian.
func DeriveBountyID(creator Identity, nonce uint64) ID {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return ID(ethcrypto.Keccak256Hash(bountyDomain, lengthPrefixed(creator), buf[:]))
}

// DeriveTipID returns keccak256("tip" || bountyID || submitter). A submitter
// can therefore file at most one tip per bounty.
func DeriveTipID(bountyID ID, submitter Identity) ID {
	return ID(ethcrypto.Keccak256Hash(tipDomain, bountyID[:], lengthPrefixed(submitter)))
}

// DeriveClaimID returns keccak256("claim" || bountyID || claimant).
func DeriveClaimID(bountyID ID, claimant Identity) ID {
	return ID(ethcrypto.Keccak256Hash(claimDomain, bountyID[:], lengthPrefixed(claimant)))
}

// lengthPrefixed keeps variable length identities from colliding with the
// fields that follow them.
func lengthPrefixed(id Identity) []byte {
	normalized := []byte(id.Normalize())
	out := make([]byte, 4+len(normalized))
	binary.BigEndian.PutUint32(out, uint32(len(normalized)))
	copy(out[4:], normalized)
	return out
}
