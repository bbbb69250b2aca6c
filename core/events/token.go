package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"slimhogs/core/types"
)

const (
	TypeTokenTransfer = "token.transfer"
	TypeTokenApproval = "token.approval"
)

// TokenTransfer is emitted by fungible collateral tokens for every balance
// movement, including mints (From is the zero address).
type TokenTransfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenTransfer,
		Attributes: map[string]string{
			"token":  formatAddress(e.Token),
			"from":   formatAddress(e.From),
			"to":     formatAddress(e.To),
			"amount": formatAmount(e.Amount),
		},
	}
}

type TokenApproval struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

func (TokenApproval) EventType() string { return TypeTokenApproval }

func (e TokenApproval) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenApproval,
		Attributes: map[string]string{
			"token":   formatAddress(e.Token),
			"owner":   formatAddress(e.Owner),
			"spender": formatAddress(e.Spender),
			"amount":  formatAmount(e.Amount),
		},
	}
}
