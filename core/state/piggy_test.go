package state

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"slimhogs/native/piggy"
	"slimhogs/native/token"
	"slimhogs/storage"
)

var (
	testToken   = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	testCustody = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	testWriter  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testHolder  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

func samplePosition() *piggy.Position {
	return &piggy.Position{
		Fingerprint:     common.HexToHash("0x01"),
		Owner:           testWriter,
		Writer:          testWriter,
		Token:           testToken,
		State:           piggy.StateSettled,
		Locked:          uint256.NewInt(1000),
		Holder:          testHolder,
		Payout:          uint256.NewInt(300),
		SettlementValue: new(uint256.Int).Lsh(uint256.NewInt(1), 255),
		Resolver:        common.HexToAddress("0xee"),
		Request:         true,
		CreatedAt:       1000,
		SettledAt:       2000,
	}
}

func TestPiggyRecordRoundTrip(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	pos := samplePosition()

	_, ok, err := mgr.PiggyGet(pos.Fingerprint)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = mgr.PiggyCommit(&piggy.Changes{
		Positions: []*piggy.Position{pos},
		Locked:    map[common.Address]*uint256.Int{testToken: uint256.NewInt(1000)},
	})
	require.NoError(t, err)

	got, ok, err := mgr.PiggyGet(pos.Fingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pos, got)

	total, err := mgr.CollateralLocked(testToken)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), total.Uint64())

	other, err := mgr.CollateralLocked(testHolder)
	require.NoError(t, err)
	require.True(t, other.IsZero())
}

func TestPiggyCommitRevert(t *testing.T) {
	db, err := storage.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(db.Close)
	mgr := NewManager(db)

	first := samplePosition()
	first.State = piggy.StateOpen
	_, err = mgr.PiggyCommit(&piggy.Changes{
		Positions: []*piggy.Position{first},
		Locked:    map[common.Address]*uint256.Int{testToken: uint256.NewInt(1000)},
	})
	require.NoError(t, err)

	updated := first.Clone()
	updated.State = piggy.StateClosed
	updated.Locked = new(uint256.Int)
	fresh := samplePosition()
	fresh.Fingerprint = common.HexToHash("0x02")
	revert, err := mgr.PiggyCommit(&piggy.Changes{
		Positions: []*piggy.Position{updated, fresh},
		Locked: map[common.Address]*uint256.Int{
			testToken:  new(uint256.Int),
			testHolder: uint256.NewInt(5),
		},
	})
	require.NoError(t, err)
	require.NoError(t, revert())

	got, ok, err := mgr.PiggyGet(first.Fingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, piggy.StateOpen, got.State)
	require.Equal(t, uint64(1000), got.Locked.Uint64())

	_, ok, err = mgr.PiggyGet(fresh.Fingerprint)
	require.NoError(t, err)
	require.False(t, ok)

	total, err := mgr.CollateralLocked(testToken)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), total.Uint64())
	holderTotal, err := mgr.CollateralLocked(testHolder)
	require.NoError(t, err)
	require.True(t, holderTotal.IsZero())
}

func TestPiggyCommitRejectsInvalidState(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	pos := samplePosition()
	pos.State = piggy.StateNone
	_, err := mgr.PiggyCommit(&piggy.Changes{Positions: []*piggy.Position{pos}})
	require.Error(t, err)
	_, ok, err := mgr.PiggyGet(pos.Fingerprint)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEnsureStateVersion(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, EnsureStateVersion(db, false))

	mgr := NewManager(db)
	version, ok, err := mgr.StateVersion()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StateVersion, version)

	require.NoError(t, mgr.SetStateVersion(StateVersion+1))
	require.ErrorIs(t, EnsureStateVersion(db, false), ErrStateVersionMismatch)
	require.NoError(t, EnsureStateVersion(db, true))
}

// The engine runs unchanged on the persistent backend and survives a reopen.
func TestEngineOnLevelDB(t *testing.T) {
	path := t.TempDir()
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)

	coin := token.NewCoin(testToken, "PIG", 18, testWriter, uint256.NewInt(10_000))
	dir := token.NewDirectory()
	require.NoError(t, dir.Register(testToken, coin))
	ctx := context.Background()
	require.NoError(t, coin.Approve(ctx, testWriter, testCustody, uint256.NewInt(10_000)))

	engine := piggy.NewEngine()
	engine.SetState(NewManager(db))
	engine.SetVault(piggy.NewVault(testCustody, dir))
	engine.SetNowFunc(func() int64 { return 1000 })

	terms := piggy.Terms{
		Creator:    testWriter,
		Collateral: testToken,
		Amount:     uint256.NewInt(1000),
		LotSize:    uint256.NewInt(1),
		Strike:     uint256.NewInt(100),
		Expiry:     2000,
		European:   true,
		Nonce:      uint256.NewInt(7),
	}
	id, err := engine.Create(ctx, testWriter, terms, common.Address{}, common.Address{}, piggy.CreatorInitiated{})
	require.NoError(t, err)
	require.NoError(t, engine.Transfer(ctx, testWriter, terms, testHolder))
	db.Close()

	reopened, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	t.Cleanup(reopened.Close)
	engine.SetState(NewManager(reopened))

	require.Equal(t, testHolder, engine.CheckOwner(ctx, terms))
	pos, ok, err := engine.Position(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testWriter, pos.Writer)
	require.NoError(t, engine.VerifyCustody(ctx, testToken))

	require.NoError(t, engine.ReclaimAndBurn(ctx, testHolder, terms))
	locked, err := engine.Locked(ctx, testToken)
	require.NoError(t, err)
	require.True(t, locked.IsZero())
	bal, err := coin.BalanceOf(ctx, testHolder)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), bal.Uint64())
}
