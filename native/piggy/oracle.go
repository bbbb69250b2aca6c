package piggy

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Oracle supplies the settlement value of a position's underlying at
// settlement time. Price discovery itself lives outside the registry.
type Oracle interface {
	SettlementValue(ctx context.Context, id common.Hash, terms Terms) (*uint256.Int, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, id common.Hash, terms Terms) (*uint256.Int, error)

func (f OracleFunc) SettlementValue(ctx context.Context, id common.Hash, terms Terms) (*uint256.Int, error) {
	return f(ctx, id, terms)
}
