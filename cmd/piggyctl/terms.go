package main

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"slimhogs/crypto"
	"slimhogs/native/piggy"
)

func parseTerms(creator, collateral, amount, lot, strike, nonce string) (piggy.Terms, error) {
	var terms piggy.Terms
	var err error
	if terms.Creator, err = crypto.ParseAddress(creator); err != nil {
		return terms, fmt.Errorf("creator: %w", err)
	}
	if terms.Collateral, err = crypto.ParseAddress(collateral); err != nil {
		return terms, fmt.Errorf("collateral: %w", err)
	}
	fields := []struct {
		name string
		raw  string
		dst  **uint256.Int
	}{
		{"amount", amount, &terms.Amount},
		{"lot", lot, &terms.LotSize},
		{"strike", strike, &terms.Strike},
		{"nonce", nonce, &terms.Nonce},
	}
	for _, f := range fields {
		v, err := uint256.FromDecimal(strings.TrimSpace(f.raw))
		if err != nil {
			return terms, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return terms, nil
}
