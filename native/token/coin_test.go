package token

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"slimhogs/core/events"
)

var (
	coinAddr = common.HexToAddress("0xface16c54eba05edebed44c4f986f49a5de55113")
	wallet   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	walletTo = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

type recorder struct {
	events []events.Event
}

func (r *recorder) Emit(evt events.Event) { r.events = append(r.events, evt) }

func newPigCoin(t *testing.T) (*Coin, *recorder) {
	t.Helper()
	rec := &recorder{}
	coin := NewCoin(coinAddr, "PIG", 2, wallet, uint256.NewInt(1000))
	coin.SetEmitter(rec)
	return coin, rec
}

func balance(t *testing.T, coin *Coin, holder common.Address) uint64 {
	t.Helper()
	bal, err := coin.BalanceOf(context.Background(), holder)
	require.NoError(t, err)
	return bal.Uint64()
}

func TestCoinAssignsInitialBalance(t *testing.T) {
	coin, _ := newPigCoin(t)
	require.Equal(t, uint64(1000), balance(t, coin, wallet))
	require.Equal(t, uint64(1000), coin.TotalSupply().Uint64())
	require.Equal(t, "PIG", coin.Symbol())
	require.Equal(t, uint8(2), coin.Decimals())
}

func TestCoinTransferEmitsEvent(t *testing.T) {
	coin, rec := newPigCoin(t)
	require.NoError(t, coin.Transfer(context.Background(), wallet, walletTo, uint256.NewInt(7)))
	require.Len(t, rec.events, 1)
	evt := rec.events[0].Event()
	require.Equal(t, events.TypeTokenTransfer, evt.Type)
	require.Equal(t, wallet.Hex(), evt.Attr("from"))
	require.Equal(t, walletTo.Hex(), evt.Attr("to"))
	require.Equal(t, "7", evt.Attr("amount"))
	require.Equal(t, uint64(993), balance(t, coin, wallet))
	require.Equal(t, uint64(7), balance(t, coin, walletTo))
}

func TestCoinCannotTransferAboveBalance(t *testing.T) {
	coin, rec := newPigCoin(t)
	err := coin.Transfer(context.Background(), wallet, walletTo, uint256.NewInt(1007))
	require.True(t, errors.Is(err, ErrInsufficientBalance))
	require.Empty(t, rec.events)
	require.Equal(t, uint64(1000), balance(t, coin, wallet))
}

func TestCoinRejectsZeroRecipient(t *testing.T) {
	coin, _ := newPigCoin(t)
	err := coin.Transfer(context.Background(), wallet, common.Address{}, uint256.NewInt(1))
	require.True(t, errors.Is(err, ErrInvalidRecipient))
	err = coin.Approve(context.Background(), wallet, common.Address{}, uint256.NewInt(1))
	require.True(t, errors.Is(err, ErrInvalidRecipient))
}

func TestCoinTransferFromConsumesAllowance(t *testing.T) {
	coin, rec := newPigCoin(t)
	ctx := context.Background()
	require.NoError(t, coin.Approve(ctx, wallet, walletTo, uint256.NewInt(50)))
	require.Equal(t, events.TypeTokenApproval, rec.events[0].EventType())

	err := coin.TransferFrom(ctx, walletTo, wallet, walletTo, uint256.NewInt(51))
	require.True(t, errors.Is(err, ErrInsufficientAllowance))

	require.NoError(t, coin.TransferFrom(ctx, walletTo, wallet, walletTo, uint256.NewInt(30)))
	require.Equal(t, uint64(20), coin.Allowance(wallet, walletTo).Uint64())
	require.Equal(t, uint64(970), balance(t, coin, wallet))
	require.Equal(t, uint64(30), balance(t, coin, walletTo))
}

func TestCoinTransferBatchIsAllOrNothing(t *testing.T) {
	coin, rec := newPigCoin(t)
	ctx := context.Background()
	third := common.HexToAddress("0x3000000000000000000000000000000000000003")

	err := coin.TransferBatch(ctx, wallet, []Payment{
		{To: walletTo, Amount: uint256.NewInt(600)},
		{To: third, Amount: uint256.NewInt(600)},
	})
	require.True(t, errors.Is(err, ErrInsufficientBalance))
	require.Equal(t, uint64(1000), balance(t, coin, wallet))
	require.Empty(t, rec.events)

	require.NoError(t, coin.TransferBatch(ctx, wallet, []Payment{
		{To: walletTo, Amount: uint256.NewInt(600)},
		{To: third, Amount: uint256.NewInt(400)},
	}))
	require.Equal(t, uint64(0), balance(t, coin, wallet))
	require.Equal(t, uint64(400), balance(t, coin, third))
	require.Len(t, rec.events, 2)
}

func TestCoinMint(t *testing.T) {
	coin, _ := newPigCoin(t)
	require.NoError(t, coin.Mint(walletTo, uint256.NewInt(5)))
	require.Equal(t, uint64(1005), coin.TotalSupply().Uint64())
	max := new(uint256.Int).SetAllOne()
	require.True(t, errors.Is(coin.Mint(walletTo, max), ErrInvalidAmount))
}

func TestDirectory(t *testing.T) {
	dir := NewDirectory()
	coin, _ := newPigCoin(t)
	require.NoError(t, dir.Register(coinAddr, coin))
	require.Error(t, dir.Register(coinAddr, coin))
	require.Error(t, dir.Register(common.Address{}, coin))

	tok, err := dir.Token(coinAddr)
	require.NoError(t, err)
	require.Same(t, coin, tok)

	_, err = dir.Token(walletTo)
	require.True(t, errors.Is(err, ErrUnknownToken))
	require.Equal(t, []common.Address{coinAddr}, dir.Addresses())
}
