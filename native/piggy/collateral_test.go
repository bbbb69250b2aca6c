package piggy

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"slimhogs/native/token"
)

// plainToken hides the batch capability of the wrapped coin.
type plainToken struct {
	token.Token
}

func newVaultFixture(t *testing.T, batch bool) (*Vault, *token.Coin) {
	t.Helper()
	coin := token.NewCoin(tokenAddr, "PIG", 18, writerAddr, uint256.NewInt(initialSupply))
	dir := token.NewDirectory()
	var tok token.Token = coin
	if !batch {
		tok = plainToken{Token: coin}
	}
	require.NoError(t, dir.Register(tokenAddr, tok))
	require.NoError(t, coin.Approve(context.Background(), writerAddr, custodyAddr, uint256.NewInt(initialSupply)))
	return NewVault(custodyAddr, dir), coin
}

func TestVaultLockAndRelease(t *testing.T) {
	for _, batch := range []bool{true, false} {
		vault, coin := newVaultFixture(t, batch)
		ctx := context.Background()
		require.NoError(t, vault.Lock(ctx, tokenAddr, writerAddr, uint256.NewInt(1000)))

		bal, err := vault.Balance(ctx, tokenAddr)
		require.NoError(t, err)
		require.Equal(t, uint64(1000), bal.Uint64())

		require.NoError(t, vault.Release(ctx, tokenAddr,
			token.Payment{To: holderAddr, Amount: uint256.NewInt(300)},
			token.Payment{To: buyerAddr, Amount: new(uint256.Int)},
			token.Payment{To: writerAddr, Amount: uint256.NewInt(700)},
		))
		holder, err := coin.BalanceOf(ctx, holderAddr)
		require.NoError(t, err)
		require.Equal(t, uint64(300), holder.Uint64())
		writer, err := coin.BalanceOf(ctx, writerAddr)
		require.NoError(t, err)
		require.Equal(t, uint64(initialSupply-300), writer.Uint64())
	}
}

func TestVaultReleaseShortfallMovesNothing(t *testing.T) {
	for _, batch := range []bool{true, false} {
		vault, coin := newVaultFixture(t, batch)
		ctx := context.Background()
		require.NoError(t, vault.Lock(ctx, tokenAddr, writerAddr, uint256.NewInt(500)))

		err := vault.Release(ctx, tokenAddr,
			token.Payment{To: holderAddr, Amount: uint256.NewInt(300)},
			token.Payment{To: writerAddr, Amount: uint256.NewInt(300)},
		)
		require.ErrorIs(t, err, token.ErrInsufficientBalance)
		holder, err := coin.BalanceOf(ctx, holderAddr)
		require.NoError(t, err)
		require.True(t, holder.IsZero())
	}
}

func TestVaultUnknownToken(t *testing.T) {
	vault, _ := newVaultFixture(t, true)
	require.ErrorIs(t, vault.Supports(common.HexToAddress("0xdead")), token.ErrUnknownToken)
	require.NoError(t, vault.Lock(context.Background(), common.HexToAddress("0xdead"), writerAddr, nil))
	require.Equal(t, custodyAddr, vault.Custody())

	var empty *Vault
	require.ErrorIs(t, empty.Supports(tokenAddr), errNilVault)
}
