package piggy

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Approvals reports whether operator may move the position on behalf of owner.
type Approvals interface {
	IsApproved(ctx context.Context, id common.Hash, owner, operator common.Address) bool
}

type operatorKey struct {
	owner    common.Address
	operator common.Address
}

type positionKey struct {
	id       common.Hash
	owner    common.Address
	operator common.Address
}

// OperatorSet is an in-memory Approvals with owner-wide operators and
// single-position approvals. A single-position approval is bound to the owner
// that granted it and lapses once the position changes hands.
type OperatorSet struct {
	mu        sync.RWMutex
	operators map[operatorKey]struct{}
	positions map[positionKey]struct{}
}

func NewOperatorSet() *OperatorSet {
	return &OperatorSet{
		operators: make(map[operatorKey]struct{}),
		positions: make(map[positionKey]struct{}),
	}
}

// SetApprovalForAll grants or revokes operator rights over every position
// owned by owner.
func (s *OperatorSet) SetApprovalForAll(owner, operator common.Address, approved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := operatorKey{owner: owner, operator: operator}
	if approved {
		s.operators[key] = struct{}{}
		return
	}
	delete(s.operators, key)
}

// Approve grants or revokes operator rights over a single position.
func (s *OperatorSet) Approve(id common.Hash, owner, operator common.Address, approved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := positionKey{id: id, owner: owner, operator: operator}
	if approved {
		s.positions[key] = struct{}{}
		return
	}
	delete(s.positions, key)
}

func (s *OperatorSet) IsApproved(_ context.Context, id common.Hash, owner, operator common.Address) bool {
	if s == nil || operator == (common.Address{}) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.operators[operatorKey{owner: owner, operator: operator}]; ok {
		return true
	}
	_, ok := s.positions[positionKey{id: id, owner: owner, operator: operator}]
	return ok
}
