package config

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"slimhogs/crypto"
)

// Validate checks addresses, token definitions and limits.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if _, err := crypto.ParseAddress(c.CustodyAddress); err != nil {
		return fmt.Errorf("config: CustodyAddress: %w", err)
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: RateLimit values must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Tokens))
	for i, tok := range c.Tokens {
		addr, err := crypto.ParseAddress(tok.Address)
		if err != nil {
			return fmt.Errorf("config: Tokens[%d].Address: %w", i, err)
		}
		if _, dup := seen[addr.Hex()]; dup {
			return fmt.Errorf("config: Tokens[%d]: duplicate address %s", i, addr.Hex())
		}
		seen[addr.Hex()] = struct{}{}
		switch strings.ToLower(strings.TrimSpace(tok.Kind)) {
		case TokenKindMemory:
			if _, err := crypto.ParseAddress(tok.Deployer); err != nil {
				return fmt.Errorf("config: Tokens[%d].Deployer: %w", i, err)
			}
			if _, err := uint256.FromDecimal(strings.TrimSpace(tok.Supply)); err != nil {
				return fmt.Errorf("config: Tokens[%d].Supply: %w", i, err)
			}
		case TokenKindERC20:
			if strings.TrimSpace(tok.RPCURL) == "" {
				return fmt.Errorf("config: Tokens[%d].RPCURL required for erc20", i)
			}
			if strings.TrimSpace(c.CustodyKeystore) == "" {
				return fmt.Errorf("config: CustodyKeystore required for erc20 token %s", addr.Hex())
			}
		default:
			return fmt.Errorf("config: Tokens[%d].Kind %q must be %s or %s", i, tok.Kind, TokenKindMemory, TokenKindERC20)
		}
	}
	return nil
}
