package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"slimhogs/core/types"
)

const (
	TypePiggyCreated     = "piggy.created"
	TypePiggyTransferred = "piggy.transferred"
	TypePiggyReclaimed   = "piggy.reclaimed"
	TypePiggySettled     = "piggy.settled"
	TypePiggyClaimed     = "piggy.claimed"
	TypePiggyClosed      = "piggy.closed"
)

type PiggyCreated struct {
	ID       common.Hash
	Writer   common.Address
	Owner    common.Address
	Token    common.Address
	Amount   *uint256.Int
	Expiry   uint64
	Request  bool
	Resolver common.Address
	Arbiter  common.Address
}

func (PiggyCreated) EventType() string { return TypePiggyCreated }

func (e PiggyCreated) Event() *types.Event {
	attrs := map[string]string{
		"id":     e.ID.Hex(),
		"writer": formatAddress(e.Writer),
		"owner":  formatAddress(e.Owner),
		"token":  formatAddress(e.Token),
		"amount": formatAmount(e.Amount),
		"expiry": uintToString(e.Expiry),
	}
	if e.Request {
		attrs["request"] = "true"
	}
	if e.Resolver != (common.Address{}) {
		attrs["resolver"] = formatAddress(e.Resolver)
	}
	if e.Arbiter != (common.Address{}) {
		attrs["arbiter"] = formatAddress(e.Arbiter)
	}
	return &types.Event{Type: TypePiggyCreated, Attributes: attrs}
}

type PiggyTransferred struct {
	ID   common.Hash
	From common.Address
	To   common.Address
	By   common.Address
}

func (PiggyTransferred) EventType() string { return TypePiggyTransferred }

func (e PiggyTransferred) Event() *types.Event {
	attrs := map[string]string{
		"id":   e.ID.Hex(),
		"from": formatAddress(e.From),
		"to":   formatAddress(e.To),
	}
	if e.By != e.From {
		attrs["operator"] = formatAddress(e.By)
	}
	return &types.Event{Type: TypePiggyTransferred, Attributes: attrs}
}

type PiggyReclaimed struct {
	ID     common.Hash
	Owner  common.Address
	Token  common.Address
	Amount *uint256.Int
}

func (PiggyReclaimed) EventType() string { return TypePiggyReclaimed }

func (e PiggyReclaimed) Event() *types.Event {
	return &types.Event{
		Type: TypePiggyReclaimed,
		Attributes: map[string]string{
			"id":     e.ID.Hex(),
			"owner":  formatAddress(e.Owner),
			"token":  formatAddress(e.Token),
			"amount": formatAmount(e.Amount),
		},
	}
}

type PiggySettled struct {
	ID        common.Hash
	Holder    common.Address
	Value     *uint256.Int
	Payout    *uint256.Int
	SettledAt uint64
}

func (PiggySettled) EventType() string { return TypePiggySettled }

func (e PiggySettled) Event() *types.Event {
	return &types.Event{
		Type: TypePiggySettled,
		Attributes: map[string]string{
			"id":        e.ID.Hex(),
			"holder":    formatAddress(e.Holder),
			"value":     formatAmount(e.Value),
			"payout":    formatAmount(e.Payout),
			"settledAt": uintToString(e.SettledAt),
		},
	}
}

type PiggyClaimed struct {
	ID        common.Hash
	Holder    common.Address
	Token     common.Address
	Amount    *uint256.Int
	Remaining *uint256.Int
}

func (PiggyClaimed) EventType() string { return TypePiggyClaimed }

func (e PiggyClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypePiggyClaimed,
		Attributes: map[string]string{
			"id":        e.ID.Hex(),
			"holder":    formatAddress(e.Holder),
			"token":     formatAddress(e.Token),
			"amount":    formatAmount(e.Amount),
			"remaining": formatAmount(e.Remaining),
		},
	}
}

// PiggyClosed marks a fingerprint as retired. Residual is the collateral that
// went back to the writer when the final claim closed the position.
type PiggyClosed struct {
	ID       common.Hash
	Writer   common.Address
	Token    common.Address
	Residual *uint256.Int
}

func (PiggyClosed) EventType() string { return TypePiggyClosed }

func (e PiggyClosed) Event() *types.Event {
	return &types.Event{
		Type: TypePiggyClosed,
		Attributes: map[string]string{
			"id":       e.ID.Hex(),
			"writer":   formatAddress(e.Writer),
			"token":    formatAddress(e.Token),
			"residual": formatAmount(e.Residual),
		},
	}
}
