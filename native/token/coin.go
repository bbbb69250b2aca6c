package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"slimhogs/core/events"
)

// Coin is an in-memory ERC-20 style token. It backs development deployments
// and tests; production collateral is usually an on-chain contract reached
// through integrations/erc20.
type Coin struct {
	mu         sync.Mutex
	address    common.Address
	symbol     string
	decimals   uint8
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
	emitter    events.Emitter
}

// NewCoin deploys a coin at addr and mints the initial supply to deployer.
func NewCoin(addr common.Address, symbol string, decimals uint8, deployer common.Address, supply *uint256.Int) *Coin {
	c := &Coin{
		address:    addr,
		symbol:     symbol,
		decimals:   decimals,
		supply:     new(uint256.Int),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
		emitter:    events.NoopEmitter{},
	}
	if supply != nil && !supply.IsZero() && deployer != (common.Address{}) {
		c.supply = new(uint256.Int).Set(supply)
		c.balances[deployer] = new(uint256.Int).Set(supply)
	}
	return c
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (c *Coin) SetEmitter(emitter events.Emitter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

func (c *Coin) Address() common.Address { return c.address }
func (c *Coin) Symbol() string          { return c.symbol }
func (c *Coin) Decimals() uint8         { return c.decimals }

func (c *Coin) TotalSupply() *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(uint256.Int).Set(c.supply)
}

// Mint credits amount to the recipient and grows the supply.
func (c *Coin) Mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}
	amt := amountOrZero(amount)
	c.mu.Lock()
	supply, overflow := new(uint256.Int).AddOverflow(c.supply, amt)
	if overflow {
		c.mu.Unlock()
		return fmt.Errorf("%w: supply overflow", ErrInvalidAmount)
	}
	c.supply = supply
	c.credit(to, amt)
	emitter := c.emitter
	c.mu.Unlock()
	emitter.Emit(events.TokenTransfer{Token: c.address, To: to, Amount: amt})
	return nil
}

func (c *Coin) BalanceOf(_ context.Context, holder common.Address) (*uint256.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceLocked(holder), nil
}

// Allowance reports how much spender may still move on behalf of owner.
func (c *Coin) Allowance(owner, spender common.Address) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allowanceLocked(owner, spender)
}

func (c *Coin) Transfer(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	amt := amountOrZero(amount)
	c.mu.Lock()
	if err := c.move(from, to, amt); err != nil {
		c.mu.Unlock()
		return err
	}
	emitter := c.emitter
	c.mu.Unlock()
	emitter.Emit(events.TokenTransfer{Token: c.address, From: from, To: to, Amount: amt})
	return nil
}

func (c *Coin) TransferFrom(_ context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	amt := amountOrZero(amount)
	c.mu.Lock()
	allowed := c.allowanceLocked(from, spender)
	if spender != from && allowed.Lt(amt) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s approved %s of %s", ErrInsufficientAllowance, from.Hex(), allowed.Dec(), amt.Dec())
	}
	if err := c.move(from, to, amt); err != nil {
		c.mu.Unlock()
		return err
	}
	if spender != from {
		c.setAllowance(from, spender, new(uint256.Int).Sub(allowed, amt))
	}
	emitter := c.emitter
	c.mu.Unlock()
	emitter.Emit(events.TokenTransfer{Token: c.address, From: from, To: to, Amount: amt})
	return nil
}

func (c *Coin) Approve(_ context.Context, owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return ErrInvalidRecipient
	}
	amt := amountOrZero(amount)
	c.mu.Lock()
	c.setAllowance(owner, spender, amt)
	emitter := c.emitter
	c.mu.Unlock()
	emitter.Emit(events.TokenApproval{Token: c.address, Owner: owner, Spender: spender, Amount: amt})
	return nil
}

// TransferBatch applies every payment or none of them.
func (c *Coin) TransferBatch(_ context.Context, from common.Address, payments []Payment) error {
	total := new(uint256.Int)
	for _, p := range payments {
		if p.To == (common.Address{}) {
			return ErrInvalidRecipient
		}
		var overflow bool
		total, overflow = new(uint256.Int).AddOverflow(total, amountOrZero(p.Amount))
		if overflow {
			return fmt.Errorf("%w: batch total overflow", ErrInvalidAmount)
		}
	}
	c.mu.Lock()
	if c.balanceLocked(from).Lt(total) {
		c.mu.Unlock()
		return ErrInsufficientBalance
	}
	emitted := make([]events.Event, 0, len(payments))
	for _, p := range payments {
		amt := amountOrZero(p.Amount)
		if err := c.move(from, p.To, amt); err != nil {
			// unreachable after the balance pre-check
			c.mu.Unlock()
			return err
		}
		emitted = append(emitted, events.TokenTransfer{Token: c.address, From: from, To: p.To, Amount: amt})
	}
	emitter := c.emitter
	c.mu.Unlock()
	for _, evt := range emitted {
		emitter.Emit(evt)
	}
	return nil
}

func (c *Coin) move(from, to common.Address, amt *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}
	balance := c.balanceLocked(from)
	if balance.Lt(amt) {
		return ErrInsufficientBalance
	}
	c.balances[from] = new(uint256.Int).Sub(balance, amt)
	c.credit(to, amt)
	return nil
}

func (c *Coin) credit(to common.Address, amt *uint256.Int) {
	c.balances[to] = new(uint256.Int).Add(c.balanceLocked(to), amt)
}

func (c *Coin) balanceLocked(holder common.Address) *uint256.Int {
	if bal, ok := c.balances[holder]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

func (c *Coin) allowanceLocked(owner, spender common.Address) *uint256.Int {
	if byOwner, ok := c.allowances[owner]; ok {
		if amt, ok := byOwner[spender]; ok {
			return new(uint256.Int).Set(amt)
		}
	}
	return new(uint256.Int)
}

func (c *Coin) setAllowance(owner, spender common.Address, amt *uint256.Int) {
	byOwner, ok := c.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*uint256.Int)
		c.allowances[owner] = byOwner
	}
	byOwner[spender] = amt
}
