package piggy

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"slimhogs/native/token"
)

var errNilVault = errors.New("piggy: vault not configured")

// Vault moves collateral between writers, holders and the registry's custody
// account. It holds no accounting of its own; the engine's ledger is the
// source of truth and the vault only executes token movements.
type Vault struct {
	custody common.Address
	tokens  token.Registry
}

func NewVault(custody common.Address, tokens token.Registry) *Vault {
	return &Vault{custody: custody, tokens: tokens}
}

// Custody returns the account that holds locked collateral.
func (v *Vault) Custody() common.Address {
	if v == nil {
		return common.Address{}
	}
	return v.custody
}

// Supports reports whether tokenAddr can be used as collateral.
func (v *Vault) Supports(tokenAddr common.Address) error {
	_, err := v.token(tokenAddr)
	return err
}

// Lock pulls amount from the writer into custody. The writer must have
// approved the custody account beforehand.
func (v *Vault) Lock(ctx context.Context, tokenAddr, from common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	tok, err := v.token(tokenAddr)
	if err != nil {
		return err
	}
	if err := tok.TransferFrom(ctx, v.custody, from, v.custody, amount); err != nil {
		return fmt.Errorf("lock %s from %s: %w", amount.Dec(), from.Hex(), err)
	}
	return nil
}

// Release pays the given legs out of custody. Zero legs are skipped. Tokens
// implementing token.Batcher settle every leg in one atomic call; for other
// tokens the custody balance is checked up front and legs are paid in order.
func (v *Vault) Release(ctx context.Context, tokenAddr common.Address, payments ...token.Payment) error {
	live := make([]token.Payment, 0, len(payments))
	total := new(uint256.Int)
	for _, p := range payments {
		if p.Amount == nil || p.Amount.IsZero() {
			continue
		}
		if _, overflow := total.AddOverflow(total, p.Amount); overflow {
			return fmt.Errorf("release: total overflows")
		}
		live = append(live, token.Payment{To: p.To, Amount: new(uint256.Int).Set(p.Amount)})
	}
	if len(live) == 0 {
		return nil
	}
	tok, err := v.token(tokenAddr)
	if err != nil {
		return err
	}
	if batcher, ok := tok.(token.Batcher); ok {
		if err := batcher.TransferBatch(ctx, v.custody, live); err != nil {
			return fmt.Errorf("release %s: %w", total.Dec(), err)
		}
		return nil
	}
	balance, err := tok.BalanceOf(ctx, v.custody)
	if err != nil {
		return fmt.Errorf("release: custody balance: %w", err)
	}
	if balance.Lt(total) {
		return fmt.Errorf("release %s: custody holds %s: %w", total.Dec(), balance.Dec(), token.ErrInsufficientBalance)
	}
	for _, p := range live {
		if err := tok.Transfer(ctx, v.custody, p.To, p.Amount); err != nil {
			return fmt.Errorf("release %s to %s: %w", p.Amount.Dec(), p.To.Hex(), err)
		}
	}
	return nil
}

// Balance returns the custody balance of tokenAddr.
func (v *Vault) Balance(ctx context.Context, tokenAddr common.Address) (*uint256.Int, error) {
	tok, err := v.token(tokenAddr)
	if err != nil {
		return nil, err
	}
	return tok.BalanceOf(ctx, v.custody)
}

func (v *Vault) token(addr common.Address) (token.Token, error) {
	if v == nil || v.tokens == nil {
		return nil, errNilVault
	}
	return v.tokens.Token(addr)
}
