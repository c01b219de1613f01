package rail

import (
	"encoding/json"
	"fmt"
	"strings"

	"whistlechain/native/bounty"
)

const maxReferenceBytes = 128

// DepositNotice credits an account after funds arrive on an external rail.
// Reference is the rail's own transfer id; it doubles as the idempotency
// key so a retried notice is applied once.
type DepositNotice struct {
	Reference string           `json:"reference"`
	Owner     bounty.Identity  `json:"owner"`
	Token     bounty.TokenType `json:"tokenType"`
	Amount    uint64           `json:"amount"`
}

// DecodeNotice parses and validates a notice body.
func DecodeNotice(body []byte) (DepositNotice, error) {
	var notice DepositNotice
	if err := json.Unmarshal(body, &notice); err != nil {
		return DepositNotice{}, fmt.Errorf("%w: decode notice: %v", bounty.ErrInvalidArgument, err)
	}
	notice.Reference = strings.TrimSpace(notice.Reference)
	notice.Owner = notice.Owner.Normalize()
	if notice.Reference == "" || len(notice.Reference) > maxReferenceBytes {
		return DepositNotice{}, fmt.Errorf("%w: reference must be 1-%d bytes", bounty.ErrInvalidArgument, maxReferenceBytes)
	}
	if notice.Owner.IsZero() {
		return DepositNotice{}, fmt.Errorf("%w: owner required", bounty.ErrInvalidArgument)
	}
	if !notice.Token.Valid() {
		return DepositNotice{}, fmt.Errorf("%w: tokenType required", bounty.ErrInvalidArgument)
	}
	if notice.Amount == 0 {
		return DepositNotice{}, fmt.Errorf("%w: amount must be positive", bounty.ErrInvalidArgument)
	}
	return notice, nil
}
