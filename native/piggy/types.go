package piggy

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// State is the lifecycle stage of a position. The zero value means the
// fingerprint has never been used.
type State uint8

const (
	StateNone State = iota
	StateOpen
	StateSettled
	StateClosed
)

func (s State) Valid() bool {
	switch s {
	case StateNone, StateOpen, StateSettled, StateClosed:
		return true
	default:
		return false
	}
}

// Live reports whether the state still carries ownership.
func (s State) Live() bool {
	return s == StateOpen || s == StateSettled
}

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateOpen:
		return "open"
	case StateSettled:
		return "settled"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terms are the immutable economic terms of a piggy. Every field takes part in
// the fingerprint; see Encode for the canonical layout.
type Terms struct {
	Creator    common.Address
	Collateral common.Address
	Amount     *uint256.Int
	LotSize    *uint256.Int
	Strike     *uint256.Int
	Expiry     uint64
	Decimals   uint8
	European   bool
	Put        bool
	Nonce      *uint256.Int
}

// Clone returns a deep copy with nil integers replaced by zero.
func (t Terms) Clone() Terms {
	out := t
	out.Amount = cloneInt(t.Amount)
	out.LotSize = cloneInt(t.LotSize)
	out.Strike = cloneInt(t.Strike)
	out.Nonce = cloneInt(t.Nonce)
	return out
}

// Validate checks the terms a new position may be written with.
func (t Terms) Validate() error {
	if t.Creator == (common.Address{}) {
		return fmt.Errorf("%w: creator required", ErrInvalidTerms)
	}
	if t.Collateral == (common.Address{}) {
		return fmt.Errorf("%w: collateral token required", ErrInvalidTerms)
	}
	if t.Amount == nil || t.Amount.IsZero() {
		return fmt.Errorf("%w: collateral amount must be positive", ErrInvalidTerms)
	}
	if t.LotSize == nil || t.LotSize.IsZero() {
		return fmt.Errorf("%w: lot size must be positive", ErrInvalidTerms)
	}
	if t.Expiry == 0 {
		return fmt.Errorf("%w: expiry required", ErrInvalidTerms)
	}
	return nil
}

// Position is the ledger record stored under a fingerprint.
type Position struct {
	Fingerprint     common.Hash
	Owner           common.Address
	Writer          common.Address
	Token           common.Address
	State           State
	Locked          *uint256.Int
	Holder          common.Address
	Payout          *uint256.Int
	SettlementValue *uint256.Int
	Resolver        common.Address
	Arbiter         common.Address
	Request         bool
	CreatedAt       uint64
	SettledAt       uint64
}

// Clone returns a deep copy of the position so callers can safely mutate the
// copy without affecting the stored instance.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	out := *p
	out.Locked = cloneInt(p.Locked)
	out.Payout = cloneInt(p.Payout)
	out.SettlementValue = cloneInt(p.SettlementValue)
	return &out
}

// retire turns the position into a closed tombstone: no owner, no holder and
// nothing locked. The fingerprint stays occupied so it can never be reopened.
func (p *Position) retire() {
	p.State = StateClosed
	p.Owner = common.Address{}
	p.Holder = common.Address{}
	p.Locked = new(uint256.Int)
	p.Payout = new(uint256.Int)
}

// Creation selects who owns a freshly written piggy.
type Creation interface {
	initialOwner(caller common.Address) (common.Address, error)
	request() bool
}

// CreatorInitiated leaves the new piggy with the caller who wrote it.
type CreatorInitiated struct{}

func (CreatorInitiated) initialOwner(caller common.Address) (common.Address, error) {
	return caller, nil
}

func (CreatorInitiated) request() bool { return false }

// CounterpartyInitiated writes the piggy on behalf of a counterparty that
// requested it; the counterparty becomes the initial owner.
type CounterpartyInitiated struct {
	Counterparty common.Address
}

func (c CounterpartyInitiated) initialOwner(common.Address) (common.Address, error) {
	if c.Counterparty == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: counterparty required", ErrInvalidRecipient)
	}
	return c.Counterparty, nil
}

func (CounterpartyInitiated) request() bool { return true }

// Changes is the set of writes a single transition commits atomically.
type Changes struct {
	Positions []*Position
	Locked    map[common.Address]*uint256.Int
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
