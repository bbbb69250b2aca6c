package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrUnknownToken          = errors.New("token: unknown token")
	ErrInsufficientBalance   = errors.New("token: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidRecipient      = errors.New("token: invalid recipient")
	ErrInvalidAmount         = errors.New("token: invalid amount")
	ErrUnauthorized          = errors.New("token: unauthorized actor")
)

// Token is the fungible collateral collaborator. Actors are explicit because
// the registry acts on behalf of whichever address submitted an operation.
// Every method fails with an error instead of reporting a false result.
type Token interface {
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, holder common.Address) (*uint256.Int, error)
}

// Payment is a single outbound leg of a batch transfer.
type Payment struct {
	To     common.Address
	Amount *uint256.Int
}

// Batcher is implemented by tokens that can apply several transfers from the
// same sender atomically.
type Batcher interface {
	TransferBatch(ctx context.Context, from common.Address, payments []Payment) error
}

// Registry resolves a collateral token address to its implementation.
type Registry interface {
	Token(addr common.Address) (Token, error)
}

// Directory is a concurrency-safe Registry populated at start-up.
type Directory struct {
	mu     sync.RWMutex
	tokens map[common.Address]Token
}

func NewDirectory() *Directory {
	return &Directory{tokens: make(map[common.Address]Token)}
}

// Register binds addr to tok. Registering the same address twice is an error.
func (d *Directory) Register(addr common.Address, tok Token) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("token: register zero address")
	}
	if tok == nil {
		return fmt.Errorf("token: register nil implementation for %s", addr.Hex())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tokens[addr]; exists {
		return fmt.Errorf("token: %s already registered", addr.Hex())
	}
	d.tokens[addr] = tok
	return nil
}

func (d *Directory) Token(addr common.Address) (Token, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tok, ok := d.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return tok, nil
}

// Addresses lists the registered token addresses in no particular order.
func (d *Directory) Addresses() []common.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]common.Address, 0, len(d.tokens))
	for addr := range d.tokens {
		out = append(out, addr)
	}
	return out
}

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
