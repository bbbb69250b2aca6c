package piggy

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	wordSize = 32
	// EncodedTermsLength is the size of the canonical terms encoding: one
	// ABI word per field.
	EncodedTermsLength = 10 * wordSize
)

// Encode returns the canonical encoding of the terms. The layout matches
// Solidity's abi.encode(address,address,uint256,uint256,uint256,uint256,uint8,bool,bool,uint256)
// so the same fingerprint can be derived by any ABI-aware client.
func Encode(t Terms) []byte {
	buf := make([]byte, 0, EncodedTermsLength)
	buf = appendAddress(buf, t.Creator)
	buf = appendAddress(buf, t.Collateral)
	buf = appendWord(buf, t.Amount)
	buf = appendWord(buf, t.LotSize)
	buf = appendWord(buf, t.Strike)
	buf = appendWord(buf, new(uint256.Int).SetUint64(t.Expiry))
	buf = appendWord(buf, uint256.NewInt(uint64(t.Decimals)))
	buf = appendBool(buf, t.European)
	buf = appendBool(buf, t.Put)
	buf = appendWord(buf, t.Nonce)
	return buf
}

// Fingerprint derives the registry key for the terms: keccak256 over Encode.
func Fingerprint(t Terms) common.Hash {
	return ethcrypto.Keccak256Hash(Encode(t))
}

// ParseFingerprint decodes a 0x-prefixed 32 byte hex string.
func ParseFingerprint(raw string) (common.Hash, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return common.Hash{}, fmt.Errorf("piggy: fingerprint must be 0x-prefixed")
	}
	if len(trimmed) != 2+2*common.HashLength {
		return common.Hash{}, fmt.Errorf("piggy: fingerprint must be %d bytes", common.HashLength)
	}
	return common.HexToHash(trimmed), nil
}

func appendAddress(buf []byte, addr common.Address) []byte {
	return append(buf, common.LeftPadBytes(addr.Bytes(), wordSize)...)
}

func appendWord(buf []byte, v *uint256.Int) []byte {
	if v == nil {
		v = new(uint256.Int)
	}
	word := v.Bytes32()
	return append(buf, word[:]...)
}

func appendBool(buf []byte, b bool) []byte {
	var word [wordSize]byte
	if b {
		word[wordSize-1] = 1
	}
	return append(buf, word[:]...)
}
