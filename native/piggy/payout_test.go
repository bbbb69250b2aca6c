package piggy

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestComputePayout(t *testing.T) {
	cases := []struct {
		name     string
		put      bool
		strike   uint64
		value    uint64
		lot      uint64
		decimals uint8
		amount   uint64
		want     uint64
	}{
		{name: "call in the money", strike: 100, value: 400, lot: 1, amount: 1000, want: 300},
		{name: "call out of the money", strike: 10000, value: 400, lot: 1, amount: 1000, want: 0},
		{name: "call at the money", strike: 400, value: 400, lot: 1, amount: 1000, want: 0},
		{name: "put in the money", put: true, strike: 500, value: 350, lot: 2, amount: 1000, want: 300},
		{name: "put out of the money", put: true, strike: 100, value: 350, lot: 2, amount: 1000, want: 0},
		{name: "lot size scales", strike: 100, value: 110, lot: 5, amount: 1000, want: 50},
		{name: "decimals scale", strike: 100, value: 103, lot: 1, decimals: 2, amount: 1000, want: 300},
		{name: "capped at collateral", strike: 100, value: 5000, lot: 1, amount: 1000, want: 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			terms := Terms{
				Amount:   uint256.NewInt(tc.amount),
				LotSize:  uint256.NewInt(tc.lot),
				Strike:   uint256.NewInt(tc.strike),
				Decimals: tc.decimals,
				Put:      tc.put,
			}
			got := ComputePayout(terms, uint256.NewInt(tc.value))
			require.Equal(t, tc.want, got.Uint64())
		})
	}
}

func TestComputePayoutOverflowCaps(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	terms := Terms{
		Amount:   uint256.NewInt(1000),
		LotSize:  max,
		Strike:   uint256.NewInt(1),
		Decimals: 77,
	}
	require.Equal(t, uint64(1000), ComputePayout(terms, uint256.NewInt(3)).Uint64())

	terms.LotSize = uint256.NewInt(1)
	terms.Decimals = 200
	require.Equal(t, uint64(1000), ComputePayout(terms, uint256.NewInt(3)).Uint64())
}

func TestComputePayoutNilSettlement(t *testing.T) {
	terms := Terms{Amount: uint256.NewInt(1000), LotSize: uint256.NewInt(1), Strike: uint256.NewInt(10), Put: true}
	require.Equal(t, uint64(10), ComputePayout(terms, nil).Uint64())
}
