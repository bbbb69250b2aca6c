package piggy

import "github.com/holiman/uint256"

// maxDecimals is the largest exponent for which 10^n fits in 256 bits.
const maxDecimals = 77

// ComputePayout returns the amount owed to the holder for a settlement value.
// Calls pay max(S-K, 0), puts pay max(K-S, 0). The intrinsic value is scaled
// by the lot size and 10^Decimals and never exceeds the collateral amount;
// an overflowing product is capped the same way.
func ComputePayout(terms Terms, settlement *uint256.Int) *uint256.Int {
	strike := cloneInt(terms.Strike)
	value := cloneInt(settlement)
	limit := cloneInt(terms.Amount)

	diff := new(uint256.Int)
	if terms.Put {
		if strike.Gt(value) {
			diff.Sub(strike, value)
		}
	} else if value.Gt(strike) {
		diff.Sub(value, strike)
	}
	if diff.IsZero() {
		return diff
	}

	scaled, overflow := new(uint256.Int).MulOverflow(diff, cloneInt(terms.LotSize))
	if overflow {
		return limit
	}
	if terms.Decimals > 0 {
		if terms.Decimals > maxDecimals {
			return limit
		}
		factor := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(terms.Decimals)))
		scaled, overflow = new(uint256.Int).MulOverflow(scaled, factor)
		if overflow {
			return limit
		}
	}
	if scaled.Gt(limit) {
		return limit
	}
	return scaled
}
