package piggy

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func sampleTerms() Terms {
	return Terms{
		Creator:    common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Collateral: common.HexToAddress("0x00000000000000000000000000000000000000c0"),
		Amount:     uint256.NewInt(1000),
		LotSize:    uint256.NewInt(1),
		Strike:     uint256.NewInt(100),
		Expiry:     2000,
		Decimals:   0,
		European:   true,
		Put:        false,
		Nonce:      uint256.NewInt(1),
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	terms := sampleTerms()
	require.Equal(t, Fingerprint(terms), Fingerprint(terms.Clone()))
	require.Len(t, Encode(terms), EncodedTermsLength)
}

func TestFingerprintDistinguishesEveryField(t *testing.T) {
	base := sampleTerms()
	mutations := map[string]func(*Terms){
		"creator":    func(t *Terms) { t.Creator = common.HexToAddress("0xa2") },
		"collateral": func(t *Terms) { t.Collateral = common.HexToAddress("0xc1") },
		"amount":     func(t *Terms) { t.Amount = uint256.NewInt(1001) },
		"lotSize":    func(t *Terms) { t.LotSize = uint256.NewInt(2) },
		"strike":     func(t *Terms) { t.Strike = uint256.NewInt(101) },
		"expiry":     func(t *Terms) { t.Expiry++ },
		"decimals":   func(t *Terms) { t.Decimals = 6 },
		"european":   func(t *Terms) { t.European = false },
		"put":        func(t *Terms) { t.Put = true },
		"nonce":      func(t *Terms) { t.Nonce = uint256.NewInt(2) },
	}
	seen := map[common.Hash]string{Fingerprint(base): "base"}
	for name, mutate := range mutations {
		terms := base.Clone()
		mutate(&terms)
		fp := Fingerprint(terms)
		prev, dup := seen[fp]
		require.Falsef(t, dup, "%s collides with %s", name, prev)
		seen[fp] = name
	}
}

func TestFingerprintNilIntegersEncodeAsZero(t *testing.T) {
	withNil := sampleTerms()
	withNil.Nonce = nil
	withZero := sampleTerms()
	withZero.Nonce = new(uint256.Int)
	require.Equal(t, Fingerprint(withZero), Fingerprint(withNil))
}

func TestEncodeMatchesABIPacking(t *testing.T) {
	newType := func(name string) abi.Type {
		typ, err := abi.NewType(name, "", nil)
		require.NoError(t, err)
		return typ
	}
	args := abi.Arguments{
		{Type: newType("address")},
		{Type: newType("address")},
		{Type: newType("uint256")},
		{Type: newType("uint256")},
		{Type: newType("uint256")},
		{Type: newType("uint256")},
		{Type: newType("uint8")},
		{Type: newType("bool")},
		{Type: newType("bool")},
		{Type: newType("uint256")},
	}
	terms := sampleTerms()
	terms.Amount = new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	terms.Decimals = 18
	terms.Put = true
	packed, err := args.Pack(
		terms.Creator,
		terms.Collateral,
		terms.Amount.ToBig(),
		terms.LotSize.ToBig(),
		terms.Strike.ToBig(),
		new(big.Int).SetUint64(terms.Expiry),
		terms.Decimals,
		terms.European,
		terms.Put,
		terms.Nonce.ToBig(),
	)
	require.NoError(t, err)
	require.Equal(t, packed, Encode(terms))
}

func TestParseFingerprint(t *testing.T) {
	fp := Fingerprint(sampleTerms())
	parsed, err := ParseFingerprint(fp.Hex())
	require.NoError(t, err)
	require.Equal(t, fp, parsed)

	_, err = ParseFingerprint(fp.Hex()[2:])
	require.Error(t, err)
	_, err = ParseFingerprint("0x1234")
	require.Error(t, err)
}
