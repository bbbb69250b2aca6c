package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"slimhogs/native/piggy"
)

var (
	piggyRecordPrefix      = []byte("piggy/record/")
	collateralLockedPrefix = []byte("piggy/locked/")
)

func piggyStorageKey(id common.Hash) []byte {
	return prefixedKey(piggyRecordPrefix, id.Bytes())
}

func collateralLockedKey(token common.Address) []byte {
	return prefixedKey(collateralLockedPrefix, token.Bytes())
}

type storedPosition struct {
	Fingerprint     [32]byte
	Owner           [20]byte
	Writer          [20]byte
	Token           [20]byte
	State           uint8
	Locked          *big.Int
	Holder          [20]byte
	Payout          *big.Int
	SettlementValue *big.Int
	Resolver        [20]byte
	Arbiter         [20]byte
	Request         bool
	CreatedAt       uint64
	SettledAt       uint64
}

func newStoredPosition(p *piggy.Position) *storedPosition {
	return &storedPosition{
		Fingerprint:     p.Fingerprint,
		Owner:           p.Owner,
		Writer:          p.Writer,
		Token:           p.Token,
		State:           uint8(p.State),
		Locked:          toBig(p.Locked),
		Holder:          p.Holder,
		Payout:          toBig(p.Payout),
		SettlementValue: toBig(p.SettlementValue),
		Resolver:        p.Resolver,
		Arbiter:         p.Arbiter,
		Request:         p.Request,
		CreatedAt:       p.CreatedAt,
		SettledAt:       p.SettledAt,
	}
}

func (s *storedPosition) toPosition() (*piggy.Position, error) {
	if s == nil {
		return nil, fmt.Errorf("piggy: nil storage record")
	}
	out := &piggy.Position{
		Fingerprint: s.Fingerprint,
		Owner:       s.Owner,
		Writer:      s.Writer,
		Token:       s.Token,
		State:       piggy.State(s.State),
		Holder:      s.Holder,
		Resolver:    s.Resolver,
		Arbiter:     s.Arbiter,
		Request:     s.Request,
		CreatedAt:   s.CreatedAt,
		SettledAt:   s.SettledAt,
	}
	var err error
	if out.Locked, err = fromBig(s.Locked); err != nil {
		return nil, err
	}
	if out.Payout, err = fromBig(s.Payout); err != nil {
		return nil, err
	}
	if out.SettlementValue, err = fromBig(s.SettlementValue); err != nil {
		return nil, err
	}
	if !out.State.Valid() {
		return nil, fmt.Errorf("piggy: invalid stored state %d", s.State)
	}
	return out, nil
}

// PiggyGet loads the position stored under id.
func (m *Manager) PiggyGet(id common.Hash) (*piggy.Position, bool, error) {
	data, ok, err := m.get(piggyStorageKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	stored := new(storedPosition)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("piggy: decode %s: %w", id.Hex(), err)
	}
	record, err := stored.toPosition()
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// CollateralLocked returns the total collateral accounted for token.
func (m *Manager) CollateralLocked(token common.Address) (*uint256.Int, error) {
	total, err := m.loadBigInt(collateralLockedKey(token))
	if err != nil {
		return nil, err
	}
	return fromBig(total)
}

// PiggyCommit persists every position and collateral total in changes in one
// batch. The returned closure restores the previous values.
func (m *Manager) PiggyCommit(changes *piggy.Changes) (func() error, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: manager unavailable")
	}
	if changes == nil {
		return func() error { return nil }, nil
	}
	writes := make(map[string][]byte, len(changes.Positions)+len(changes.Locked))
	for _, pos := range changes.Positions {
		if pos == nil {
			return nil, fmt.Errorf("piggy: nil position")
		}
		if !pos.State.Valid() || pos.State == piggy.StateNone {
			return nil, fmt.Errorf("piggy: invalid state %d", pos.State)
		}
		encoded, err := rlp.EncodeToBytes(newStoredPosition(pos))
		if err != nil {
			return nil, err
		}
		writes[string(piggyStorageKey(pos.Fingerprint))] = encoded
	}
	for token, total := range changes.Locked {
		encoded, err := rlp.EncodeToBytes(toBig(total))
		if err != nil {
			return nil, err
		}
		writes[string(collateralLockedKey(token))] = encoded
	}
	return m.writeAtomically(writes)
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("piggy: negative stored amount")
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("piggy: stored amount overflows 256 bits")
	}
	return out, nil
}
