package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/holiman/uint256"

	"slimhogs/config"
	"slimhogs/core/events"
	"slimhogs/crypto"
	"slimhogs/integrations/erc20"
	"slimhogs/native/token"
)

// buildTokens registers every configured collateral token. The custody key is
// only unlocked when an erc20 token needs to sign.
func buildTokens(ctx context.Context, cfg *config.Config, emitter events.Emitter, passphrase func() (string, error), logger *slog.Logger) (*token.Directory, error) {
	dir := token.NewDirectory()
	var custodyKey *crypto.PrivateKey

	for i, tc := range cfg.Tokens {
		addr, err := crypto.ParseAddress(tc.Address)
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		var tok token.Token
		switch strings.ToLower(strings.TrimSpace(tc.Kind)) {
		case config.TokenKindMemory:
			deployer, err := crypto.ParseAddress(tc.Deployer)
			if err != nil {
				return nil, fmt.Errorf("token %s deployer: %w", addr.Hex(), err)
			}
			supply, err := uint256.FromDecimal(strings.TrimSpace(tc.Supply))
			if err != nil {
				return nil, fmt.Errorf("token %s supply: %w", addr.Hex(), err)
			}
			coin := token.NewCoin(addr, tc.Symbol, tc.Decimals, deployer, supply)
			coin.SetEmitter(emitter)
			tok = coin
			logger.Warn("in-memory collateral token; balances reset on restart",
				slog.String("token", addr.Hex()), slog.String("symbol", tc.Symbol))
		case config.TokenKindERC20:
			if custodyKey == nil {
				custodyKey, err = loadCustodyKey(cfg, passphrase)
				if err != nil {
					return nil, err
				}
			}
			onchain, err := erc20.Dial(ctx, tc.RPCURL, addr, tc.ChainID, custodyKey, logger)
			if err != nil {
				return nil, err
			}
			tok = onchain
		default:
			return nil, fmt.Errorf("token %s: unsupported kind %q", addr.Hex(), tc.Kind)
		}
		if err := dir.Register(addr, tok); err != nil {
			return nil, err
		}
	}
	return dir, nil
}

func loadCustodyKey(cfg *config.Config, passphrase func() (string, error)) (*crypto.PrivateKey, error) {
	pass, err := passphrase()
	if err != nil {
		return nil, fmt.Errorf("custody passphrase: %w", err)
	}
	key, err := crypto.LoadFromKeystore(cfg.CustodyKeystore, pass)
	if err != nil {
		return nil, fmt.Errorf("custody keystore: %w", err)
	}
	want, err := crypto.ParseAddress(cfg.CustodyAddress)
	if err != nil {
		return nil, err
	}
	if key.Address() != want {
		return nil, fmt.Errorf("custody keystore holds %s, config names %s", key.Address().Hex(), want.Hex())
	}
	return key, nil
}
